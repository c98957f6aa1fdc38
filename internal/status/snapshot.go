// internal/status/snapshot.go
package status

// Snapshot is the health view of one device as delivered to the mirror.
// It holds current state only.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
	State          State
}

// HealthOf maps a connection state to a health code.
func HealthOf(s State) uint16 {
	switch s {
	case Connected:
		return HealthOK
	case Faulted:
		return HealthError
	case Connecting:
		return HealthStale
	case Disconnected:
		return HealthDisabled
	default:
		return HealthUnknown
	}
}
