package config

import "time"

type Config struct {
	Log      Log      `mapstructure:"log" json:"log" yaml:"log"`
	Storage  Storage  `mapstructure:"storage" json:"storage" yaml:"storage"`
	Identity Identity `mapstructure:"identity" json:"identity" yaml:"identity"`
	Session  Session  `mapstructure:"session" json:"session" yaml:"session"`
	Metrics  Metrics  `mapstructure:"metrics" json:"metrics" yaml:"metrics"`

	file string
}

type Log struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// Storage locates the durable tier shared by every instance on the host.
type Storage struct {
	Path         string        `mapstructure:"path" json:"path" yaml:"path"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout" json:"busyTimeout" yaml:"busy_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"pollInterval" yaml:"poll_interval"`
}

type Identity struct {
	UserRefreshURL  string        `mapstructure:"user_refresh_url" json:"userRefreshUrl" yaml:"user_refresh_url"`
	AdminRefreshURL string        `mapstructure:"admin_refresh_url" json:"adminRefreshUrl" yaml:"admin_refresh_url"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type Session struct {
	RefreshLeadWindow time.Duration `mapstructure:"refresh_lead_window" json:"refreshLeadWindow" yaml:"refresh_lead_window"`
}

type Metrics struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// File is the config file the values were read from, if any.
func (c *Config) File() string {
	return c.file
}
