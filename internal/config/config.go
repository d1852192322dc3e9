// Package config loads application configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Daemons       []DaemonConfig      `mapstructure:"daemons"`
	Access        AccessConfig        `mapstructure:"access"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// DaemonConfig describes one Transmission daemon.
type DaemonConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

// AccessConfig holds the identity allow-list. Whitelist is a
// comma-separated list of Telegram user IDs so it can be supplied through
// a single environment variable.
type AccessConfig struct {
	Whitelist string `mapstructure:"whitelist"`
}

// NotificationsConfig controls completion monitoring.
type NotificationsConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	IntervalSec int  `mapstructure:"interval_sec"`
}

// RefreshConfig controls per-message auto-refresh.
type RefreshConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
	DurationSec int `mapstructure:"duration_sec"`
}

// ServerConfig holds the ops HTTP endpoint configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.transmote")
	}

	v.SetEnvPrefix("TRANSMOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A daemon list in the config file wins; otherwise fall back to the
	// flat daemon.* keys so a single-daemon setup needs no file at all.
	if len(cfg.Daemons) == 0 {
		cfg.Daemons = []DaemonConfig{{
			Name:     "Default",
			Host:     v.GetString("daemon.host"),
			Port:     v.GetInt("daemon.port"),
			Username: v.GetString("daemon.username"),
			Password: v.GetString("daemon.password"),
			UseSSL:   v.GetBool("daemon.use_ssl"),
		}}
	}

	return cfg, nil
}

// Validate checks the parts of the configuration without usable defaults.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Access.Whitelist) == "" {
		return fmt.Errorf("access.whitelist is required")
	}
	if _, err := c.WhitelistIDs(); err != nil {
		return err
	}
	return nil
}

// WhitelistIDs parses the comma-separated allow-list into user IDs.
func (c *Config) WhitelistIDs() ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(c.Access.Whitelist, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")

	v.SetDefault("daemon.host", "127.0.0.1")
	v.SetDefault("daemon.port", 9091)
	v.SetDefault("daemon.username", "")
	v.SetDefault("daemon.password", "")
	v.SetDefault("daemon.use_ssl", false)

	v.SetDefault("access.whitelist", "")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.interval_sec", 30)

	v.SetDefault("refresh.interval_sec", 1)
	v.SetDefault("refresh.duration_sec", 60)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8096)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
}

// Address returns the ops server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
