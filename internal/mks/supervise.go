// internal/mks/supervise.go
package mks

import (
	"context"
	"time"

	"github.com/tamzrod/pump-monitor/internal/retry"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// Supervise restarts c, delay after each error notification that left it
// Faulted, until ctx is done. A Stop in the meantime cancels the restart.
func Supervise(ctx context.Context, c *Client, delay time.Duration) {
	events, cancel := c.Subscribe(16)
	defer cancel()

	// a fault published before Subscribe is still visible in the state
	faulted := c.State() == status.Faulted
	for {
		if faulted {
			if retry.Sleep(ctx, delay) != nil {
				return
			}
			if c.Restart() {
				c.log.Info().Dur("delay", delay).Msg("mks client restarted after fault")
			}
			faulted = false
		}

		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			faulted = e.Kind == status.EventError && e.State == status.Faulted
		}
	}
}
