package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaseURL          = "http://localhost:3000"
	DefaultPageSize         = 30
	DefaultMaxItemsInMemory = 500
	DefaultListen           = ":3001"
)

// Duration lets TOML files spell durations as "10s" or "250ms"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// APIConfig describes how to reach the stories API
type APIConfig struct {
	BaseURL       string   `toml:"base_url"`
	Timeout       Duration `toml:"timeout"`
	UserAgent     string   `toml:"user_agent"`
	MaxRetries    uint64   `toml:"max_retries"`
	RetryInterval Duration `toml:"retry_interval"`
}

// FeedConfig holds the pagination and retention settings of a feed session
type FeedConfig struct {
	PageSize         int `toml:"page_size"`
	MaxItemsInMemory int `toml:"max_items_in_memory"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Listen      string `toml:"listen"`
	CORSOrigins string `toml:"cors_origins"`
}

// Config represents the top-level configuration
type Config struct {
	API    APIConfig    `toml:"api"`
	Feed   FeedConfig   `toml:"feed"`
	Server ServerConfig `toml:"server"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       DefaultBaseURL,
			Timeout:       Duration{10 * time.Second},
			UserAgent:     "stories/0.1",
			MaxRetries:    2,
			RetryInterval: Duration{200 * time.Millisecond},
		},
		Feed: FeedConfig{
			PageSize:         DefaultPageSize,
			MaxItemsInMemory: DefaultMaxItemsInMemory,
		},
		Server: ServerConfig{
			Listen:      DefaultListen,
			CORSOrigins: "http://localhost:5173",
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. Keys missing from the
// file keep their default value.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url must be set"))
	}
	if c.API.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Feed.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize))
	}
	if c.Feed.MaxItemsInMemory <= 0 {
		errs = append(errs, fmt.Errorf("feed.max_items_in_memory must be positive, got %d", c.Feed.MaxItemsInMemory))
	}
	if c.Feed.PageSize > 0 && c.Feed.MaxItemsInMemory > 0 && c.Feed.MaxItemsInMemory < c.Feed.PageSize {
		errs = append(errs, fmt.Errorf("feed.max_items_in_memory (%d) must be at least feed.page_size (%d)",
			c.Feed.MaxItemsInMemory, c.Feed.PageSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
