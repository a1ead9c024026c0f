package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration lets TOML values like "15s" decode into a time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type TomlDatabase struct {
	Path string `toml:"path"`
}

type TomlServer struct {
	Port int `toml:"port"`
	// Requests to the bot endpoints must carry this key when set
	APIKey string `toml:"api_key"`
}

type TomlPoll struct {
	Schedule    string `toml:"schedule"`
	BatchSize   int    `toml:"batch_size"`
	MaxFailures int    `toml:"max_failures"`
}

type TomlFeeds struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

type TomlGateway struct {
	Timeout Duration `toml:"timeout"`
	APIKey  string   `toml:"api_key"`
}

type TomlLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database TomlDatabase `toml:"database"`
	Server   TomlServer   `toml:"server"`
	Poll     TomlPoll     `toml:"poll"`
	Feeds    TomlFeeds    `toml:"feeds"`
	Gateway  TomlGateway  `toml:"gateway"`
	Log      TomlLog      `toml:"log"`
}

func Default() *TomlConfig {
	return &TomlConfig{
		Database: TomlDatabase{Path: "tubewatch.db"},
		Server:   TomlServer{Port: 3000},
		Poll: TomlPoll{
			Schedule:  "@every 30m",
			BatchSize: 50,
		},
		Feeds: TomlFeeds{
			BaseURL: "https://www.youtube.com/feeds/videos.xml",
			Timeout: Duration{15 * time.Second},
		},
		Gateway: TomlGateway{Timeout: Duration{10 * time.Second}},
		Log:     TomlLog{Level: "info", Format: "text"},
	}
}

// LoadConfig reads the TOML file at path over the defaults. An empty path
// or a missing file yields the defaults.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return config, nil
}

func (c *TomlConfig) validate() error {
	if c.Poll.BatchSize <= 0 {
		return fmt.Errorf("poll.batch_size must be positive, got %d", c.Poll.BatchSize)
	}
	if c.Poll.MaxFailures < 0 {
		return fmt.Errorf("poll.max_failures must not be negative, got %d", c.Poll.MaxFailures)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
