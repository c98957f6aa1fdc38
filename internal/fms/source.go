// internal/fms/source.go
package fms

import (
	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// Name implements poller.Source.
func (c *Client) Name() string { return device }

// Headers returns one column name per channel: "label (unit)" or just the
// label when the unit is empty.
func (c *Client) Headers() []string {
	return Headers(c.CurrentMetadata())
}

// Headers derives column names from metadata.
func Headers(md sample.ChannelMetadata) []string {
	out := make([]string, 0, len(md))
	for _, ci := range md {
		if ci.Unit == "" {
			out = append(out, ci.Label)
			continue
		}
		out = append(out, ci.Label+" ("+ci.Unit+")")
	}
	return out
}

// Snapshot implements poller.Source.
func (c *Client) Snapshot() poller.PollResult {
	res := poller.PollResult{
		Source:  device,
		State:   c.State(),
		Headers: c.Headers(),
	}
	if res.State == status.Faulted {
		res.Fault = c.events.LastFault()
	}

	s, ok := c.CurrentSample()
	if !ok {
		res.Err = poller.ErrNoSample
		return res
	}

	res.SampleAt = s.At
	res.Fields = make([]string, len(s.Raw))
	res.Values = make([]sample.Reading, len(s.Values))
	for i := range s.Raw {
		res.Fields[i] = s.Raw[i]
		res.Values[i] = sample.Present(s.Values[i])
	}
	return res
}
