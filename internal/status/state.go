// internal/status/state.go
package status

import "go.uber.org/atomic"

// State is the connection state of one device client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "invalid"
	}
}

// Transmitting reports whether the device is delivering samples.
func (s State) Transmitting() bool { return s == Connected }

// Cell holds a State readable from any goroutine without blocking.
type Cell struct {
	v atomic.Int32
}

func (c *Cell) Load() State { return State(c.v.Load()) }

// Store sets the state and returns the previous one.
func (c *Cell) Store(s State) State { return State(c.v.Swap(int32(s))) }
