// internal/mirror/runner.go
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// Runner mirrors one device: values on every poll result, the status
// block on change and once a second while the device is unhealthy.
// All state is owned by the Run goroutine.
type Runner struct {
	target DeviceTarget
	unitID uint8
	cli    endpointClient
	status *deviceStatusWriter
	log    zerolog.Logger

	snap status.Snapshot
}

func NewRunner(plan Plan, target DeviceTarget, cli endpointClient, log zerolog.Logger) *Runner {
	return &Runner{
		target: target,
		unitID: plan.UnitID,
		cli:    cli,
		status: newDeviceStatusWriter(plan, target, cli),
		log:    log.With().Str("device", target.Source).Logger(),
		snap:   status.Snapshot{Health: status.HealthUnknown},
	}
}

// Run consumes poll results until ctx is done or in is closed.
func (r *Runner) Run(ctx context.Context, in <-chan poller.PollResult) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	r.writeStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			r.Apply(res)
		case <-secTicker.C:
			r.Tick()
		}
	}
}

// Apply delivers one poll result.
func (r *Runner) Apply(res poller.PollResult) {
	if res.Err == nil {
		if err := r.cli.WriteRegisters(r.unitID, r.target.ValueAddress, EncodeValues(res.Values)); err != nil {
			r.log.Warn().Err(err).Uint16("addr", r.target.ValueAddress).Msg("mirror value write failed")
		}
	}

	next := r.snap
	next.State = res.State
	next.Health = healthOf(res)

	switch next.Health {
	case status.HealthOK:
		next.LastErrorCode = 0
		next.SecondsInError = 0
	case status.HealthError:
		next.LastErrorCode = errorCode(res.Fault)
	}

	if next != r.snap {
		r.snap = next
		r.writeStatus()
	}
}

// Tick advances seconds_in_error while the device is in error or stale.
// The counter saturates instead of wrapping.
func (r *Runner) Tick() {
	if r.snap.Health != status.HealthError && r.snap.Health != status.HealthStale {
		return
	}
	if r.snap.SecondsInError == 65535 {
		return
	}
	r.snap.SecondsInError++
	r.writeStatus()
}

// Snapshot returns the status currently asserted for the device.
func (r *Runner) Snapshot() status.Snapshot { return r.snap }

func (r *Runner) writeStatus() {
	if err := r.status.WriteStatus(r.snap); err != nil {
		r.log.Warn().Err(err).Msg("mirror status write failed")
	}
}

// healthOf is the state health, downgraded to stale while a connected
// device has not produced a sample yet.
func healthOf(res poller.PollResult) uint16 {
	h := status.HealthOf(res.State)
	if h == status.HealthOK && res.Err != nil {
		return status.HealthStale
	}
	return h
}

// errorCode extracts a code from an error without assuming concrete types.
// An error without a code is 1 (generic).
func errorCode(err error) uint16 {
	if err == nil {
		return 1
	}

	type coder interface{ Code() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return 1
}
