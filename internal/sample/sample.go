// internal/sample/sample.go
package sample

import (
	"fmt"
	"time"
)

// Channels is the fixed channel count of both instruments.
const Channels = 4

// ChannelSample is one FMS poll cycle.
// Raw holds the cleaned device strings in channel order; Values the parsed
// numbers (0 for the out-of-range sentinel or unparsable text).
// Arrays only: a copy never aliases the publisher's memory.
type ChannelSample struct {
	At     time.Time
	Raw    [Channels]string
	Values [Channels]float64
}

// ChannelInfo is the display label and engineering unit of one channel.
type ChannelInfo struct {
	Label string
	Unit  string
}

// ChannelMetadata is fetched once per FMS connection.
type ChannelMetadata [Channels]ChannelInfo

// DefaultMetadata returns CH1..CH4 labels with empty units.
func DefaultMetadata() ChannelMetadata {
	var m ChannelMetadata
	for i := range m {
		m[i] = ChannelInfo{Label: fmt.Sprintf("CH%d", i+1)}
	}
	return m
}

// Reading is an optional numeric value. OK=false means absent.
type Reading struct {
	Value float64
	OK    bool
}

// Present builds a present reading.
func Present(v float64) Reading { return Reading{Value: v, OK: true} }

// GaugeSample is one MKS poll cycle.
// Readings are indexed by channel-1; Unit is the unit in effect when the
// cycle measured.
type GaugeSample struct {
	At       time.Time
	Readings [Channels]Reading
	Unit     string
}

// Channel returns the reading for a 1-based channel number.
func (g GaugeSample) Channel(ch int) Reading {
	if ch < 1 || ch > Channels {
		return Reading{}
	}
	return g.Readings[ch-1]
}
