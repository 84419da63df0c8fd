package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SESSIONKEEPER"

var ErrNoConfigFile = errors.New("no config file to save to")

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("storage.path", "data/session.db")
	v.SetDefault("storage.busy_timeout", 5*time.Second)
	v.SetDefault("storage.poll_interval", 2*time.Second)
	v.SetDefault("identity.user_refresh_url", "")
	v.SetDefault("identity.admin_refresh_url", "")
	v.SetDefault("identity.timeout", 10*time.Second)
	v.SetDefault("session.refresh_lead_window", time.Minute)
	v.SetDefault("metrics.addr", "")
}

// Load reads config.prod for the production environment and config.dev
// otherwise, searching dirs (default "config"). SESSIONKEEPER_* environment
// variables override file values. A missing file leaves the defaults.
func Load(goEnv string, dirs ...string) (*Config, error) {
	log.Debug().Msgf("Loading configuration for environment: %s", goEnv)

	v := viper.New()
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{"config"}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if goEnv == "production" {
		v.SetConfigName("config.prod")
	} else {
		v.SetConfigName("config.dev")
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults")
	}

	conf := &Config{file: v.ConfigFileUsed()}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(conf); err != nil {
		return nil, err
	}

	if conf.file != "" {
		log.Debug().Msgf("Config file loaded: %s", conf.file)
	}
	return conf, nil
}

// Save writes conf back to the file it was loaded from.
func Save(conf *Config) error {
	if conf.file == "" {
		return ErrNoConfigFile
	}
	return SaveTo(conf, conf.file)
}

func SaveTo(conf *Config, path string) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	log.Info().Msgf("Configuration saved to %s", path)
	return nil
}

func Validate(conf *Config) error {
	if strings.TrimSpace(conf.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if conf.Storage.BusyTimeout < 0 {
		return errors.New("storage.busy_timeout must not be negative")
	}
	if conf.Storage.PollInterval <= 0 {
		return errors.New("storage.poll_interval must be positive")
	}
	if conf.Identity.Timeout <= 0 {
		return errors.New("identity.timeout must be positive")
	}
	if conf.Session.RefreshLeadWindow < 0 {
		return errors.New("session.refresh_lead_window must not be negative")
	}

	for key, raw := range map[string]string{
		"identity.user_refresh_url":  conf.Identity.UserRefreshURL,
		"identity.admin_refresh_url": conf.Identity.AdminRefreshURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL", key)
		}
	}

	switch conf.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", conf.Log.Format)
	}
	return nil
}
