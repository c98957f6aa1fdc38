// internal/mirror/status_writer.go
package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/pump-monitor/internal/status"
)

// deviceStatusWriter delivers a device status snapshot into its block.
// It writes verbatim and interprets nothing.
type deviceStatusWriter struct {
	cli      endpointClient
	unitID   uint8
	baseAddr uint16
	name     string

	needFull bool
	last     status.Snapshot
}

func newDeviceStatusWriter(plan Plan, target DeviceTarget, cli endpointClient) *deviceStatusWriter {
	return &deviceStatusWriter{
		cli:      cli,
		unitID:   plan.UnitID,
		baseAddr: plan.StatusBase + target.StatusSlot*status.SlotsPerDevice,
		name:     target.Name,
		needFull: true, // full re-assert on first write
	}
}

// WriteStatus writes the slots that changed since the last success.
// After any failure the next call re-asserts the full block.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw.cli == nil {
		return errors.New("mirror status: missing client")
	}

	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.unitID, sw.baseAddr, status.Encode(s, sw.name)); err != nil {
			return fmt.Errorf("mirror status: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = s
		return nil
	}

	var errs []string

	write := func(slot int, label string, v uint16) bool {
		if err := sw.cli.WriteRegisters(sw.unitID, sw.baseAddr+uint16(slot), []uint16{v}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, label, err))
			return false
		}
		return true
	}

	if sw.last.Health != s.Health && write(status.SlotHealthCode, "health", s.Health) {
		sw.last.Health = s.Health
	}
	if sw.last.LastErrorCode != s.LastErrorCode && write(status.SlotLastErrorCode, "last_error", s.LastErrorCode) {
		sw.last.LastErrorCode = s.LastErrorCode
	}
	if sw.last.SecondsInError != s.SecondsInError && write(status.SlotSecondsInError, "seconds", s.SecondsInError) {
		sw.last.SecondsInError = s.SecondsInError
	}
	if sw.last.State != s.State && write(status.SlotConnectionState, "state", uint16(s.State)) {
		sw.last.State = s.State
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("mirror status: " + strings.Join(errs, " | "))
	}
	return nil
}
