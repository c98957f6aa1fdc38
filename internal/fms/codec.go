// internal/fms/codec.go
package fms

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/pump-monitor/internal/sample"
)

// ---- commands (CRLF terminated) ----

const (
	CmdLabels = "adil?"
	CmdUnits  = "auiu?"
	CmdRead   = "ar"

	readMarker = "READ:"
	readEnd    = ";"

	// RangeSentinel is what the controller prints for an out-of-range channel.
	RangeSentinel = "!RANGE!"
)

var (
	labelPattern = regexp.MustCompile(`CH(\d)\s+LABEL:\s*"([^"]+)"`)
	unitPattern  = regexp.MustCompile(`CH(\d)\s+UNITS\s+STR:\s*([^\r\n]+)`)
)

// Frame builds a request line.
func Frame(cmd string) []byte {
	return []byte(cmd + "\r\n")
}

// HasReading reports whether a response line carries a reading.
func HasReading(line string) bool {
	return strings.Contains(line, readMarker)
}

// ParseRead parses `...READ:v1,v2,v3,v4;` into a sample stamped at.
// The sentinel is rewritten to "0"; unparsable or missing values are 0.
// ok is false when the line has no reading marker.
func ParseRead(line string, at time.Time) (s sample.ChannelSample, ok bool) {
	i := strings.Index(line, readMarker)
	if i < 0 {
		return s, false
	}
	payload := line[i+len(readMarker):]
	if j := strings.Index(payload, readEnd); j >= 0 {
		payload = payload[:j]
	}

	s.At = at
	for ch, tok := range strings.Split(payload, ",") {
		if ch >= sample.Channels {
			break
		}
		clean := strings.TrimSpace(tok)
		if clean == RangeSentinel {
			clean = "0"
		}
		s.Raw[ch] = clean

		if v, err := strconv.ParseFloat(clean, 64); err == nil {
			s.Values[ch] = v
		}
	}
	return s, true
}

// ParseMetadata applies label and unit responses on top of the defaults.
// Channels without a match keep CH{n} and an empty unit.
func ParseMetadata(labels, units string) sample.ChannelMetadata {
	md := sample.DefaultMetadata()

	for _, m := range labelPattern.FindAllStringSubmatch(labels, -1) {
		if ch, ok := channelIndex(m[1]); ok {
			md[ch].Label = strings.TrimSpace(m[2])
		}
	}
	for _, m := range unitPattern.FindAllStringSubmatch(units, -1) {
		if ch, ok := channelIndex(m[1]); ok {
			md[ch].Unit = strings.TrimSpace(m[2])
		}
	}
	return md
}

func channelIndex(digit string) (int, bool) {
	n, err := strconv.Atoi(digit)
	if err != nil || n < 1 || n > sample.Channels {
		return 0, false
	}
	return n - 1, true
}
