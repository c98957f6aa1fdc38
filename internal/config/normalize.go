// internal/config/normalize.go
package config

import "strings"

// Bench defaults.
const (
	DefaultFMSAddress = "192.168.1.180:101"
	DefaultMKSPort    = "COM1"

	DefaultFMSIntervalMs = 1000
	DefaultMKSIntervalMs = 500

	DefaultMKSBaudRate = 9600
	DefaultMKSAddress  = 253

	DefaultMirrorTimeoutMs  = 1000
	DefaultRestartDelayMs   = 3000
	DefaultDisplayInterval  = 1000
	DefaultLoggingDir       = "logs"
	DefaultFMSLoggingPrefix = "FMS"
	DefaultMKSLoggingPrefix = "MKS946"
)

// Normalize fills defaults. It mutates cfg and must run before Validate.
// Values that are set but invalid are left for Validate to reject.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ---- devices ----

	if cfg.FMS.Address == "" {
		cfg.FMS.Address = DefaultFMSAddress
	}
	orDefault(&cfg.FMS.IntervalMs, DefaultFMSIntervalMs)

	if cfg.MKS.Port == "" {
		cfg.MKS.Port = DefaultMKSPort
	}
	orDefault(&cfg.MKS.IntervalMs, DefaultMKSIntervalMs)
	orDefault(&cfg.MKS.BaudRate, DefaultMKSBaudRate)
	orDefault(&cfg.MKS.Address, DefaultMKSAddress)
	if len(cfg.MKS.Channels) == 0 {
		cfg.MKS.Channels = []int{1, 2, 3, 4}
	}
	cfg.MKS.Unit = strings.ToUpper(strings.TrimSpace(cfg.MKS.Unit))
	if cfg.MKS.RestartOnFault {
		orDefault(&cfg.MKS.RestartDelayMs, DefaultRestartDelayMs)
	}

	// ---- consumers ----

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = DefaultLoggingDir
	}
	orDefault(&cfg.Logging.FMSIntervalMs, cfg.FMS.IntervalMs)
	orDefault(&cfg.Logging.MKSIntervalMs, cfg.MKS.IntervalMs)
	if cfg.Logging.FMSPrefix == "" {
		cfg.Logging.FMSPrefix = DefaultFMSLoggingPrefix
	}
	if cfg.Logging.MKSPrefix == "" {
		cfg.Logging.MKSPrefix = DefaultMKSLoggingPrefix
	}

	orDefault(&cfg.Display.IntervalMs, DefaultDisplayInterval)

	orDefault(&cfg.Mirror.TimeoutMs, DefaultMirrorTimeoutMs)
	orDefault(&cfg.Mirror.IntervalMs, DefaultFMSIntervalMs)
	for i := range cfg.Mirror.Devices {
		d := &cfg.Mirror.Devices[i]
		d.Source = strings.ToLower(strings.TrimSpace(d.Source))
		if d.Name == "" {
			d.Name = strings.ToUpper(d.Source)
		}
		if len(d.Name) > 16 {
			d.Name = d.Name[:16]
		}
	}

	// ---- process log ----

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func orDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
