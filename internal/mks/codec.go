// internal/mks/codec.go
package mks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultAddress is the factory device id of the MKS 946.
	DefaultAddress = 253

	// Terminator ends every command and response frame.
	Terminator = ";FF"

	// UnitUnknown is reported when the unit query never matched.
	UnitUnknown = "Unknown"
)

// SettableUnits can be written with the set-unit command.
var SettableUnits = []string{"PASCAL", "TORR", "MBAR", "MICRON"}

// readbackUnits are recognized in a unit query response.
// PASCAL precedes PA so the longer name wins.
var readbackUnits = []string{"PASCAL", "TORR", "MBAR", "MICRON", "ATM", "PA"}

// decimalPattern requires a decimal point: an echoed address such as
// "253" must never be taken for a reading.
var decimalPattern = regexp.MustCompile(`[-+]?[0-9]*\.[0-9]+([eE][-+]?[0-9]+)?`)

// ---- frames ----

// Frame builds "@<addr><cmd>;FF".
func Frame(addr int, cmd string) string {
	return fmt.Sprintf("@%d%s%s", addr, cmd, Terminator)
}

func QueryUnit(addr int) string { return Frame(addr, "U?") }

func SetUnit(addr int, unit string) string { return Frame(addr, "U!"+unit) }

func QueryPressure(addr, ch int) string { return Frame(addr, fmt.Sprintf("PR%d?", ch)) }

// ---- responses ----

// ExtractPressure strips the device address prefix and parses the first
// decimal-pointed number. ok is false when nothing matches.
func ExtractPressure(addr int, resp string) (float64, bool) {
	clean := strings.ReplaceAll(resp, fmt.Sprintf("@%d", addr), "")

	m := decimalPattern.FindString(clean)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MatchUnit finds a recognized unit name in a unit query response.
func MatchUnit(resp string) (string, bool) {
	upper := strings.ToUpper(resp)
	for _, u := range readbackUnits {
		if strings.Contains(upper, u) {
			return u, true
		}
	}
	return "", false
}

// NormalizeUnit upper-cases unit and reports whether it can be set.
func NormalizeUnit(unit string) (string, bool) {
	u := strings.ToUpper(strings.TrimSpace(unit))
	for _, s := range SettableUnits {
		if u == s {
			return u, true
		}
	}
	return u, false
}

// ConfirmsUnit reports whether a unit query response names unit.
func ConfirmsUnit(resp, unit string) bool {
	return unit != "" && strings.Contains(strings.ToUpper(resp), strings.ToUpper(unit))
}
