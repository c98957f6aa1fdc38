// internal/mks/source.go
package mks

import (
	"fmt"

	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// Name implements poller.Source.
func (c *Client) Name() string { return device }

// Headers returns CH<n> per monitored channel followed by "Unit".
func (c *Client) Headers() []string {
	out := make([]string, 0, len(c.cfg.Channels)+1)
	for _, ch := range c.cfg.Channels {
		out = append(out, fmt.Sprintf("CH%d", ch))
	}
	return append(out, "Unit")
}

// FormatPressure renders a reading in scientific notation; absent is empty.
func FormatPressure(r sample.Reading) string {
	if !r.OK {
		return ""
	}
	return fmt.Sprintf("%.2E", r.Value)
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

	g, ok := c.CurrentSample()
	if !ok {
		res.Err = poller.ErrNoSample
		return res
	}

	res.SampleAt = g.At
	res.Unit = g.Unit
	res.Fields = make([]string, 0, len(c.cfg.Channels)+1)
	res.Values = make([]sample.Reading, 0, len(c.cfg.Channels))
	for _, ch := range c.cfg.Channels {
		r := g.Channel(ch)
		res.Fields = append(res.Fields, FormatPressure(r))
		res.Values = append(res.Values, r)
	}
	res.Fields = append(res.Fields, g.Unit)
	return res
}
