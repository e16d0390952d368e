// Package config defines all configuration for the sentinel.
//
// Endpoints and tunables come from an optional YAML file (default:
// configs/config.yaml, overridable via SENTINEL_CONFIG). Credentials and
// the tracked symbols are environment-driven and required:
//
//	CEX_API_KEY           identity header for the SBE WebSocket endpoint
//	CEX_TRACKED_SYMBOLS   comma-separated, uppercased
//	PME_API_KEY_ID        access-key header for the PME
//	PME_PRIVATE_KEY_PATH  PKCS#1 or PKCS#8 PEM used for request signing
//	PME_TRACKED_SYMBOLS   series ticker(s), comma-separated
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	CEX      CEXConfig      `mapstructure:"cex"`
	PME      PMEConfig      `mapstructure:"pme"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CEXConfig covers the binary SBE market-data feed.
type CEXConfig struct {
	WSBaseURL      string   `mapstructure:"ws_base_url"`
	APIKey         string   `mapstructure:"api_key"`
	TrackedSymbols []string `mapstructure:"tracked_symbols"`
}

// PMEConfig covers the prediction-market exchange: the authenticated
// WebSocket and the REST bootstrap used to resolve the series' current
// market. TrackedSymbols are series tickers; the first one is the
// correlation target for imbalance alerts.
type PMEConfig struct {
	WSURL          string        `mapstructure:"ws_url"`
	RESTBaseURL    string        `mapstructure:"rest_base_url"`
	APIKeyID       string        `mapstructure:"api_key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TrackedSymbols []string      `mapstructure:"tracked_symbols"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// ReportsConfig sets where imbalance report files are written.
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig enables optional persistence of recorded observations.
// An empty URL disables the database entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// MetricsConfig controls the Prometheus /metrics listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the optional YAML file, applies defaults, then overlays the
// required environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("cex.ws_base_url", "wss://stream-sbe.binance.com:9443")
	v.SetDefault("pme.ws_url", "wss://api.elections.kalshi.com/trade-api/ws/v2")
	v.SetDefault("pme.rest_base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("pme.connect_timeout", 30*time.Second)
	v.SetDefault("pme.read_timeout", 60*time.Second)
	v.SetDefault("reports.dir", ".")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		// The file is optional; only a present-but-broken file is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("CEX_API_KEY"); key != "" {
		cfg.CEX.APIKey = key
	}
	if symbols := os.Getenv("CEX_TRACKED_SYMBOLS"); symbols != "" {
		cfg.CEX.TrackedSymbols = splitSymbols(symbols)
	}
	if key := os.Getenv("PME_API_KEY_ID"); key != "" {
		cfg.PME.APIKeyID = key
	}
	if path := os.Getenv("PME_PRIVATE_KEY_PATH"); path != "" {
		cfg.PME.PrivateKeyPath = path
	}
	if symbols := os.Getenv("PME_TRACKED_SYMBOLS"); symbols != "" {
		cfg.PME.TrackedSymbols = splitSymbols(symbols)
	}

	return &cfg, nil
}

// splitSymbols splits a comma-separated list, trimming and uppercasing.
func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks all required fields.
func (c *Config) Validate() error {
	if c.CEX.APIKey == "" {
		return fmt.Errorf("cex.api_key is required (set CEX_API_KEY)")
	}
	if len(c.CEX.TrackedSymbols) == 0 {
		return fmt.Errorf("cex.tracked_symbols is required (set CEX_TRACKED_SYMBOLS)")
	}
	if c.PME.APIKeyID == "" {
		return fmt.Errorf("pme.api_key_id is required (set PME_API_KEY_ID)")
	}
	if c.PME.PrivateKeyPath == "" {
		return fmt.Errorf("pme.private_key_path is required (set PME_PRIVATE_KEY_PATH)")
	}
	if len(c.PME.TrackedSymbols) == 0 {
		return fmt.Errorf("pme.tracked_symbols is required (set PME_TRACKED_SYMBOLS)")
	}
	if c.PME.ConnectTimeout <= 0 || c.PME.ReadTimeout <= 0 {
		return fmt.Errorf("pme timeouts must be positive")
	}
	return nil
}
