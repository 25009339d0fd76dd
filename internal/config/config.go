// Package config loads libsync settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvRemoteSecret = "LIBSYNC_REMOTE_SECRET"
	EnvServerSecret = "LIBSYNC_SERVER_SECRET"
)

// Config is the full settings tree.
type Config struct {
	DBPath     string   `yaml:"db_path" validate:"required"`
	ArtworkDir string   `yaml:"artwork_dir" validate:"required"`
	Library    Library  `yaml:"library"`
	Database   Database `yaml:"database"`
	Export     Export   `yaml:"export"`
	Update     Update   `yaml:"update"`
	Remote     Remote   `yaml:"remote"`
	Server     Server   `yaml:"server"`
	Watch      Watch    `yaml:"watch"`
	Log        Log      `yaml:"log"`
}

type Library struct {
	XMLPath string `yaml:"xml_path"`
	// MusicRoot overrides the music folder recorded in the library XML.
	MusicRoot   string `yaml:"music_root"`
	Application string `yaml:"application"`
}

type Database struct {
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`
	CheckoutTimeout time.Duration `yaml:"checkout_timeout" validate:"min=0"`
}

type Export struct {
	BatchSize        int           `yaml:"batch_size" validate:"min=1"`
	HashChunkSize    int           `yaml:"hash_chunk_size" validate:"min=1"`
	ProgressInterval time.Duration `yaml:"progress_interval" validate:"min=0"`
}

type Update struct {
	FailurePolicy string `yaml:"failure_policy" validate:"oneof=abort continue"`
}

type Remote struct {
	BaseURL         string        `yaml:"base_url" validate:"omitempty,url"`
	Secret          string        `yaml:"secret"`
	ServiceIdentity string        `yaml:"service_identity"`
	Timeout         time.Duration `yaml:"timeout" validate:"min=0"`
}

type Server struct {
	Listen   string        `yaml:"listen" validate:"required"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" validate:"min=0"`
}

type Watch struct {
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text console"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DBPath:     "./libsync.db",
		ArtworkDir: "./artwork",
		Library: Library{
			Application: "Music",
		},
		Database: Database{
			MaxOpenConns:    5,
			CheckoutTimeout: 5 * time.Second,
		},
		Export: Export{
			BatchSize:        1000,
			HashChunkSize:    32 << 20,
			ProgressInterval: time.Second,
		},
		Update: Update{
			FailurePolicy: "abort",
		},
		Remote: Remote{
			ServiceIdentity: "export-driver",
			Timeout:         30 * time.Second,
		},
		Server: Server{
			Listen:   ":8080",
			TokenTTL: 5 * time.Minute,
		},
		Watch: Watch{
			Debounce: 2 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if secret := os.Getenv(EnvRemoteSecret); secret != "" {
		cfg.Remote.Secret = secret
	}
	if secret := os.Getenv(EnvServerSecret); secret != "" {
		cfg.Server.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
