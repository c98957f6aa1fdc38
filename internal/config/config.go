// internal/config/config.go
package config

type Config struct {
	FMS     FMSConfig     `yaml:"fms"`
	MKS     MKSConfig     `yaml:"mks"`
	Logging LoggingConfig `yaml:"logging"`
	Display DisplayConfig `yaml:"display"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ---- FMS (TCP) ----

type FMSConfig struct {
	Enabled *bool  `yaml:"enabled"` // default true
	Address string `yaml:"address" env:"MONITOR_FMS_ADDRESS"`

	IntervalMs       int `yaml:"interval_ms"`
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	ReadTimeoutMs    int `yaml:"read_timeout_ms"`
	CooldownMs       int `yaml:"cooldown_ms"`
}

// ---- MKS 946 (serial) ----

type MKSConfig struct {
	Enabled  *bool  `yaml:"enabled"` // default true
	Port     string `yaml:"port" env:"MONITOR_MKS_PORT"`
	BaudRate int    `yaml:"baud_rate"`
	Address  int    `yaml:"address"`

	IntervalMs int   `yaml:"interval_ms"`
	TimeoutMs  int   `yaml:"timeout_ms"`
	Channels   []int `yaml:"channels"`

	// Unit is applied once at startup when set.
	Unit string `yaml:"unit"`

	// The serial client stops on a fault; these opt into restarting it.
	RestartOnFault bool `yaml:"restart_on_fault"`
	RestartDelayMs int  `yaml:"restart_delay_ms"`
}

// ---- CSV LOGGING ----

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" env:"MONITOR_LOG_DIR"`

	FMSIntervalMs int    `yaml:"fms_interval_ms"`
	MKSIntervalMs int    `yaml:"mks_interval_ms"`
	FMSPrefix     string `yaml:"fms_prefix"`
	MKSPrefix     string `yaml:"mks_prefix"`
}

// ---- DISPLAY ----

type DisplayConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
}

// ---- MODBUS MIRROR ----

type MirrorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	IntervalMs int    `yaml:"interval_ms"`

	// StatusBase is the holding register of status block 0.
	StatusBase uint16 `yaml:"status_base"`

	Devices []MirrorDeviceConfig `yaml:"devices"`
}

type MirrorDeviceConfig struct {
	Source       string `yaml:"source"` // fms | mks
	Name         string `yaml:"name"`
	ValueAddress uint16 `yaml:"value_address"`
	StatusSlot   uint16 `yaml:"status_slot"`
}

// ---- METRICS / PROCESS LOG ----

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"MONITOR_METRICS_ADDR"` // empty disables
}

type LogConfig struct {
	Level  string `yaml:"level" env:"MONITOR_LOG_LEVEL"`
	Format string `yaml:"format"` // console | json
}

// FMSEnabled reports whether the FMS client should run.
func (c *Config) FMSEnabled() bool { return c.FMS.Enabled == nil || *c.FMS.Enabled }

// MKSEnabled reports whether the MKS client should run.
func (c *Config) MKSEnabled() bool { return c.MKS.Enabled == nil || *c.MKS.Enabled }
