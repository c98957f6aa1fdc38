// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// Interval bounds of the operator UI, in milliseconds.
const (
	MinIntervalMs = 100
	MaxIntervalMs = 60000
)

// Status block and value geometry, mirrored from the status and mirror packages.
const (
	statusBlockRegs   = 20
	registersPerValue = 2
	fmsChannels       = 4
)

var settableUnits = map[string]bool{"PASCAL": true, "TORR": true, "MBAR": true, "MICRON": true}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if !cfg.FMSEnabled() && !cfg.MKSEnabled() {
		return fmt.Errorf("config: at least one of fms, mks must be enabled")
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	if cfg.FMSEnabled() {
		if _, _, err := net.SplitHostPort(cfg.FMS.Address); err != nil {
			return fmt.Errorf("fms.address %q: %v", cfg.FMS.Address, err)
		}
		if err := interval("fms.interval_ms", cfg.FMS.IntervalMs); err != nil {
			return err
		}
		for name, v := range map[string]int{
			"fms.connect_timeout_ms": cfg.FMS.ConnectTimeoutMs,
			"fms.read_timeout_ms":    cfg.FMS.ReadTimeoutMs,
			"fms.cooldown_ms":        cfg.FMS.CooldownMs,
		} {
			if v < 0 {
				return fmt.Errorf("%s must not be negative", name)
			}
		}
	}

	if cfg.MKSEnabled() {
		m := cfg.MKS
		if strings.TrimSpace(m.Port) == "" {
			return fmt.Errorf("mks.port required")
		}
		if m.BaudRate <= 0 {
			return fmt.Errorf("mks.baud_rate must be positive")
		}
		if m.Address < 1 || m.Address > 253 {
			return fmt.Errorf("mks.address %d out of range 1..253", m.Address)
		}
		if err := interval("mks.interval_ms", m.IntervalMs); err != nil {
			return err
		}
		if m.TimeoutMs < 0 || m.RestartDelayMs < 0 {
			return fmt.Errorf("mks timeouts must not be negative")
		}

		seen := make(map[int]bool)
		for _, ch := range m.Channels {
			if ch < 1 || ch > 4 {
				return fmt.Errorf("mks.channels: channel %d out of range 1..4", ch)
			}
			if seen[ch] {
				return fmt.Errorf("mks.channels: channel %d listed twice", ch)
			}
			seen[ch] = true
		}

		if m.Unit != "" && !settableUnits[strings.ToUpper(m.Unit)] {
			return fmt.Errorf("mks.unit %q must be one of PASCAL, TORR, MBAR, MICRON", m.Unit)
		}
	}

	// ------------------------------------------------------------
	// CONSUMERS
	// ------------------------------------------------------------

	if cfg.Logging.Enabled {
		if strings.TrimSpace(cfg.Logging.Dir) == "" {
			return fmt.Errorf("logging.dir required when logging is enabled")
		}
		if err := interval("logging.fms_interval_ms", cfg.Logging.FMSIntervalMs); err != nil {
			return err
		}
		if err := interval("logging.mks_interval_ms", cfg.Logging.MKSIntervalMs); err != nil {
			return err
		}
		for _, p := range []string{cfg.Logging.FMSPrefix, cfg.Logging.MKSPrefix} {
			if strings.ContainsAny(p, `/\`) {
				return fmt.Errorf("logging prefix %q must not contain path separators", p)
			}
		}
	}

	if cfg.Display.Enabled {
		if err := interval("display.interval_ms", cfg.Display.IntervalMs); err != nil {
			return err
		}
	}

	if cfg.Mirror.Enabled {
		if err := validateMirror(cfg); err != nil {
			return err
		}
	}

	// ------------------------------------------------------------
	// PROCESS LOG
	// ------------------------------------------------------------

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %v", err)
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format %q must be console or json", cfg.Log.Format)
	}

	return nil
}

func interval(name string, ms int) error {
	if ms < MinIntervalMs || ms > MaxIntervalMs {
		return fmt.Errorf("%s %d out of range %d..%d", name, ms, MinIntervalMs, MaxIntervalMs)
	}
	return nil
}

// validateMirror rejects unknown sources, bad names, and any overlap
// between value ranges and status blocks in the mirror's register space.
func validateMirror(cfg *Config) error {
	type span struct {
		start uint32
		end   uint32
		owner string
	}

	m := cfg.Mirror
	if m.Endpoint == "" {
		return fmt.Errorf("mirror.endpoint required when mirror is enabled")
	}
	if err := interval("mirror.interval_ms", m.IntervalMs); err != nil {
		return err
	}
	if len(m.Devices) == 0 {
		return fmt.Errorf("mirror.devices: at least one device required")
	}

	var spans []span
	claim := func(start, regs uint32, owner string) error {
		end := start + regs - 1
		if end > 0xFFFF {
			return fmt.Errorf("mirror: %s range %d-%d exceeds the register space", owner, start, end)
		}
		for _, s := range spans {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"mirror overlap: %s range=%d-%d overlaps with %s range=%d-%d",
					owner, start, end, s.owner, s.start, s.end,
				)
			}
		}
		spans = append(spans, span{start: start, end: end, owner: owner})
		return nil
	}

	seen := make(map[string]bool)
	for _, d := range m.Devices {
		var channels int
		switch d.Source {
		case "fms":
			if !cfg.FMSEnabled() {
				return fmt.Errorf("mirror.devices: fms is mirrored but disabled")
			}
			channels = fmsChannels
		case "mks":
			if !cfg.MKSEnabled() {
				return fmt.Errorf("mirror.devices: mks is mirrored but disabled")
			}
			channels = len(cfg.MKS.Channels)
		default:
			return fmt.Errorf("mirror.devices: unknown source %q", d.Source)
		}
		if seen[d.Source] {
			return fmt.Errorf("mirror.devices: source %q listed twice", d.Source)
		}
		seen[d.Source] = true

		for i := 0; i < len(d.Name); i++ {
			if d.Name[i] > 0x7F {
				return fmt.Errorf("mirror.devices %q: name must contain ASCII characters only", d.Source)
			}
		}

		values := uint32(channels * registersPerValue)
		if err := claim(uint32(d.ValueAddress), values, d.Source+" values"); err != nil {
			return err
		}
		block := uint32(m.StatusBase) + uint32(d.StatusSlot)*statusBlockRegs
		if err := claim(block, statusBlockRegs, d.Source+" status"); err != nil {
			return err
		}
	}

	return nil
}
