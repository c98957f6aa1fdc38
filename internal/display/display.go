// internal/display/display.go
package display

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

const (
	// Unknown is shown while a device has no sample.
	Unknown = "---"

	// Absent is shown for a gauge channel that did not answer this cycle.
	Absent = "Error"
)

type Color string

const (
	Black  Color = "black"
	Red    Color = "red"
	Green  Color = "green"
	Orange Color = "orange"
	Gray   Color = "gray"
)

// Indicator is the connection lamp of one device.
type Indicator struct {
	Text  string
	Color Color
}

func IndicatorOf(s status.State) Indicator {
	switch s {
	case status.Connected:
		return Indicator{Text: "Connected", Color: Green}
	case status.Connecting:
		return Indicator{Text: "Connecting", Color: Orange}
	case status.Faulted:
		return Indicator{Text: "Fault", Color: Red}
	default:
		return Indicator{Text: "Stopped", Color: Gray}
	}
}

// StatusColor colors a notification line: errors red, status black.
func StatusColor(e status.Event) Color {
	if e.Kind == status.EventError {
		return Red
	}
	return Black
}

// FormatReading renders a gauge reading as "%.2f <unit>", or Absent.
func FormatReading(r sample.Reading, unit string) string {
	if !r.OK {
		return Absent
	}
	return strings.TrimSpace(fmt.Sprintf("%.2f %s", r.Value, unit))
}

// Field is one labelled value on the panel.
type Field struct {
	Label string
	Value string
}

// Render turns a poll result into panel fields, one per channel.
// Devices with a shared unit show formatted readings; the others show
// the device text as received.
func Render(res poller.PollResult) []Field {
	n := len(res.Values)
	if res.Err != nil {
		n = len(res.Headers)
		if res.Unit != "" || (n > 0 && res.Headers[n-1] == "Unit") {
			n-- // the unit column carries no channel
		}
	}

	out := make([]Field, 0, n)
	for i := 0; i < n; i++ {
		f := Field{Label: fmt.Sprintf("CH%d", i+1), Value: Unknown}
		if i < len(res.Headers) {
			f.Label = res.Headers[i]
		}

		switch {
		case res.Err != nil:
		case res.Unit != "":
			f.Value = FormatReading(res.Values[i], res.Unit)
		case i < len(res.Fields) && res.Fields[i] != "":
			f.Value = res.Fields[i]
		}
		out = append(out, f)
	}
	return out
}

// Run logs a panel line for every result until ctx is done or in closes.
func Run(ctx context.Context, in <-chan poller.PollResult, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			Log(log, res)
		}
	}
}

// Log writes one panel line.
func Log(log zerolog.Logger, res poller.PollResult) {
	ind := IndicatorOf(res.State)

	values := zerolog.Dict()
	for _, f := range Render(res) {
		values.Str(f.Label, f.Value)
	}

	log.Info().
		Str("device", res.Source).
		Str("state", ind.Text).
		Str("lamp", string(ind.Color)).
		Dict("values", values).
		Msg("panel")
}
