package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries everything the server binary needs. Load starts from
// defaults, overlays the YAML file, then applies environment overrides for
// deployment-sensitive values.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`

	Markets []string `yaml:"markets"`

	Book struct {
		PriceLevels       int    `yaml:"price_levels"`
		MaxOrdersPerLevel int    `yaml:"max_orders_per_level"`
		SelfTrade         string `yaml:"self_trade"` // "skip" or "reject"
	} `yaml:"book"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"` // empty disables file output
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Store struct {
		Dir string `yaml:"dir"` // empty disables the journal
	} `yaml:"store"`

	Feed struct {
		Brokers []string `yaml:"brokers"` // empty disables the feed
		Topic   string   `yaml:"topic"`
	} `yaml:"feed"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Address = "0.0.0.0"
	cfg.Server.Port = 9001
	cfg.Markets = []string{"BASE/QUOTE"}
	cfg.Book.PriceLevels = 1024
	cfg.Book.SelfTrade = "skip"
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	cfg.Feed.Topic = "executions"
	return cfg
}

// Load reads the YAML config at path. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if addr := os.Getenv("SKOLL_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	if dir := os.Getenv("SKOLL_STORE_DIR"); dir != "" {
		cfg.Store.Dir = dir
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: at least one market is required")
	}
	if c.Book.PriceLevels <= 0 {
		return fmt.Errorf("config: price_levels must be positive")
	}
	switch c.Book.SelfTrade {
	case "skip", "reject":
	default:
		return fmt.Errorf("config: self_trade must be \"skip\" or \"reject\", got %q", c.Book.SelfTrade)
	}
	return nil
}
