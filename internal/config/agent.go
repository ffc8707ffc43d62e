package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AgentEnvPrefix prefixes agent environment overrides, e.g. METRICSHUB_AGENT_SERVER_URL
const AgentEnvPrefix = "METRICSHUB_AGENT"

// AgentConfig is the configuration of a client agent
type AgentConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	CollectionInterval time.Duration `mapstructure:"collection_interval"`
	StockInterval      time.Duration `mapstructure:"stock_interval"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	RegisterAttempts   int           `mapstructure:"register_attempts"`
	StateFile          string        `mapstructure:"state_file"`

	Metrics struct {
		Enabled []string `mapstructure:"enabled"`
		// DiskPath is the mount point sampled for disk_usage
		DiskPath string `mapstructure:"disk_path"`
	} `mapstructure:"metrics"`

	Stocks struct {
		APIKey      string   `mapstructure:"api_key"`
		ProviderURL string   `mapstructure:"provider_url"`
		Symbols     []string `mapstructure:"symbols"`
		// UseKeyring enables looking up the API key in the OS keyring when api_key is empty
		UseKeyring bool `mapstructure:"use_keyring"`
	} `mapstructure:"stocks"`

	Logging LogConfig `mapstructure:"logs"`
}

func setAgentDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:5000")
	v.SetDefault("collection_interval", 10*time.Second)
	v.SetDefault("stock_interval", 60*time.Second)
	v.SetDefault("http_timeout", 5*time.Second)
	v.SetDefault("register_attempts", 3)
	v.SetDefault("state_file", "agent_state.yaml")

	v.SetDefault("metrics.enabled", []string{"cpu_usage", "ram_usage"})
	v.SetDefault("metrics.disk_path", "/")

	v.SetDefault("stocks.api_key", "")
	v.SetDefault("stocks.provider_url", "https://finnhub.io/api/v1")
	v.SetDefault("stocks.symbols", []string{})
	v.SetDefault("stocks.use_keyring", false)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")
}

// LoadAgent reads the agent configuration from path (optional), the environment and defaults.
func LoadAgent(path string) (*AgentConfig, error) {
	v := viper.New()
	setAgentDefaults(v)

	v.SetEnvPrefix(AgentEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, path, "agent"); err != nil {
		return nil, err
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &cfg, nil
}

func (c *AgentConfig) validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url must not be empty")
	}
	if c.CollectionInterval <= 0 {
		return errors.New("collection_interval must be positive")
	}
	if c.StockInterval <= 0 {
		return errors.New("stock_interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http_timeout must be positive")
	}
	if c.RegisterAttempts < 1 {
		return errors.New("register_attempts must be at least 1")
	}
	if strings.TrimSpace(c.StateFile) == "" {
		return errors.New("state_file must not be empty")
	}
	return nil
}
