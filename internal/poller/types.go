// internal/poller/types.go
package poller

import (
	"errors"
	"time"

	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// ErrNoSample means the device has not published a sample (stopped,
// faulted, or not yet connected).
var ErrNoSample = errors.New("poller: no sample")

// PollResult is a consumer-side snapshot of one device.
type PollResult struct {
	Source   string
	At       time.Time // when the consumer took the snapshot
	SampleAt time.Time // when the device produced the sample
	State    status.State

	// Headers are the value column names, derived from metadata.
	// Fields are the display/CSV strings in Headers order.
	Headers []string
	Fields  []string

	// Values are the numeric readings per channel.
	Values []sample.Reading

	// Unit is the engineering unit shared by all Values, if the device has one.
	Unit string

	Err error // non-nil means no sample was available

	// Fault is the categorized cause of the last device error while the
	// device is Faulted.
	Fault error
}

// Source is a device client as seen by consumers.
type Source interface {
	Name() string
	Snapshot() PollResult
}
