package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerEnvPrefix prefixes environment overrides, e.g. METRICSHUB_SERVER_PORT
const ServerEnvPrefix = "METRICSHUB"

// LogConfig is shared by the server and the agent
type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
	Format string `mapstructure:"format"` // text|json
	File   string `mapstructure:"file"`   // file prefix; empty logs to stdout only
}

// ServerConfig is the configuration of the metrics server
type ServerConfig struct {
	Server struct {
		Address string `mapstructure:"address"`
		Port    string `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Driver           string `mapstructure:"driver"` // sqlite|postgres|mysql
		DSN              string `mapstructure:"dsn"`
		MigrateLegacyMAC bool   `mapstructure:"migrate_legacy_mac"`
	} `mapstructure:"database"`

	Metrics struct {
		Recognized []string `mapstructure:"recognized"`
	} `mapstructure:"metrics"`

	Presence struct {
		CheckInterval time.Duration `mapstructure:"check_interval"`
		OfflineAfter  time.Duration `mapstructure:"offline_after"`
	} `mapstructure:"presence"`

	Logging LogConfig `mapstructure:"logs"`
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *ServerConfig) ListenAddr() string {
	return c.Server.Address + ":" + c.Server.Port
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", "5000")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./metrics.db")
	v.SetDefault("database.migrate_legacy_mac", false)

	v.SetDefault("metrics.recognized", []string{"cpu_usage", "ram_usage", "disk_usage", "net_bytes_sent", "net_bytes_recv"})

	v.SetDefault("presence.check_interval", 30*time.Second)
	v.SetDefault("presence.offline_after", 2*time.Minute)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")
}

// LoadServer reads the server configuration from path (optional), the
// environment and defaults.
func LoadServer(path string) (*ServerConfig, error) {
	v := viper.New()
	setServerDefaults(v)

	v.SetEnvPrefix(ServerEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, path, "server"); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port must not be empty")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql (got %q)", c.Database.Driver)
	}
	if len(c.Metrics.Recognized) == 0 {
		return errors.New("metrics.recognized must list at least one metric name")
	}
	if c.Presence.CheckInterval <= 0 || c.Presence.OfflineAfter <= 0 {
		return errors.New("presence.check_interval and presence.offline_after must be positive")
	}
	return nil
}

// readConfigFile loads an explicit file, or searches the working directory
// for <name>.yaml. A missing search-path file is not an error.
func readConfigFile(v *viper.Viper, path, name string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("config read error: %w", err)
	}
	return nil
}
