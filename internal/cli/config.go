package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geofield/fieldsync/internal/syncer"
)

// Config is the run command's configuration file.
type Config struct {
	Database   string `yaml:"database"`
	RemoteURL  string `yaml:"remote_url"`
	UserID     string `yaml:"user_id"`
	SurveysDir string `yaml:"surveys_dir"`

	Sync SyncConfig `yaml:"sync"`
}

// SyncConfig tunes the queue drain loop.
type SyncConfig struct {
	PollInterval Duration    `yaml:"poll_interval"`
	Workers      int         `yaml:"workers"`
	PushTimeout  Duration    `yaml:"push_timeout"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors syncer.RetryConfig in configuration form.
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
	Jitter         float64  `yaml:"jitter"`
}

// Duration lets config files use Go duration syntax ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadConfig reads and validates a yaml config file. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Database == "" {
		return Config{}, fmt.Errorf("config %s: database is required", path)
	}
	if cfg.RemoteURL == "" {
		return Config{}, fmt.Errorf("config %s: remote_url is required", path)
	}
	if cfg.UserID == "" {
		return Config{}, fmt.Errorf("config %s: user_id is required", path)
	}
	return cfg, nil
}

// SyncerConfig converts the file form into syncer tuning. Zero values fall
// through to the syncer's defaults.
func (c Config) SyncerConfig() syncer.Config {
	return syncer.Config{
		PollInterval: time.Duration(c.Sync.PollInterval),
		Workers:      c.Sync.Workers,
		PushTimeout:  time.Duration(c.Sync.PushTimeout),
		Retry: syncer.RetryConfig{
			MaxAttempts:       c.Sync.Retry.MaxAttempts,
			InitialBackoff:    time.Duration(c.Sync.Retry.InitialBackoff),
			MaxBackoff:        time.Duration(c.Sync.Retry.MaxBackoff),
			BackoffMultiplier: c.Sync.Retry.Multiplier,
			Jitter:            c.Sync.Retry.Jitter,
		},
	}
}
