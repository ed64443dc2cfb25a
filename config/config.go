// Package config loads the CometBFT node configuration and the ledger
// application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cfg "github.com/cometbft/cometbft/config"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HALAL_HTTP_PORT
const EnvPrefix = "HALAL"

// Settings are the application settings read from <home>/config/app.toml and
// the HALAL_* environment
type Settings struct {
	HTTPPort       string        `mapstructure:"http_port"`
	Administrator  string        `mapstructure:"administrator"`
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	KafkaBrokers   []string      `mapstructure:"kafka_brokers"`
	KafkaTopic     string        `mapstructure:"kafka_topic"`
	LogAllTxs      bool          `mapstructure:"log_all_txs"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
	BadgerPath     string        `mapstructure:"badger_path"`
}

var defaults = map[string]interface{}{
	"http_port":       "5000",
	"administrator":   "",
	"postgres_dsn":    "",
	"kafka_brokers":   []string{},
	"kafka_topic":     "halal-ledger-events",
	"log_all_txs":     false,
	"request_timeout": 30 * time.Second,
	"queue_size":      256,
	"badger_path":     "",
}

// IndexerEnabled reports whether committed events are projected into postgres
func (s *Settings) IndexerEnabled() bool {
	return s.PostgresDSN != ""
}

// KafkaEnabled reports whether committed events are published to kafka
func (s *Settings) KafkaEnabled() bool {
	return len(s.KafkaBrokers) > 0
}

// Validate checks the settings a node cannot start without
func (s *Settings) Validate() error {
	if s.HTTPPort == "" {
		return fmt.Errorf("http_port must be set")
	}
	if s.KafkaEnabled() && s.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic must be set when kafka_brokers is")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout)
	}
	return nil
}

// LoadNode reads <home>/config/config.toml into a CometBFT config rooted at home
func LoadNode(homeDir string) (*cfg.Config, error) {
	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)

	v := viper.New()
	v.SetConfigFile(filepath.Join(homeDir, "config", "config.toml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration data: %w", err)
	}
	return config, nil
}

// LoadSettings reads the application settings. A missing app.toml is not an
// error; defaults and the environment still apply.
func LoadSettings(homeDir string) (*Settings, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := filepath.Join(homeDir, "config", "app.toml")
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if s.BadgerPath == "" {
		s.BadgerPath = filepath.Join(homeDir, "badger")
	}
	return &s, nil
}
