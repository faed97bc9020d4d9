// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Dossier configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Server    ServerConfig    `mapstructure:"server"`
	OCR       ServiceConfig   `mapstructure:"ocr"`
	Embedding ServiceConfig   `mapstructure:"embedding"`
	Answer    ServiceConfig   `mapstructure:"answer"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Search    SearchConfig    `mapstructure:"search"`
}

// ServerConfig controls how the HTTP server listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ServiceConfig holds endpoint, credentials, and model id for one external
// collaborator (OCR, embedding, or answer generation). All three speak the
// OpenAI-compatible API.
type ServiceConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	// Extensions lists the supported file suffixes, lowercase with dot.
	Extensions []string `mapstructure:"extensions"`
	// TreeConcurrency bounds simultaneous file ingestions during a tree walk.
	TreeConcurrency int `mapstructure:"tree_concurrency"`
	// BulkDelay is the pause between files on the serialized bulk-upload path.
	BulkDelay time.Duration `mapstructure:"bulk_delay"`
	// RetryAttempts caps OCR attempts per image, including the first.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBackoff is the base delay; attempt n waits n * RetryBackoff.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SearchConfig controls the retrieval path.
type SearchConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SetDefaults registers every configuration default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("server.listen", "127.0.0.1:8501")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("ocr.endpoint", "http://localhost:8009/v1")
	v.SetDefault("ocr.api_key", "EMPTY")
	v.SetDefault("ocr.model", "HunyuanOCR")
	v.SetDefault("ocr.timeout", "2m")

	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "bge-m3")
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("answer.endpoint", "")
	v.SetDefault("answer.api_key", "")
	v.SetDefault("answer.model", "qwq-32b")
	v.SetDefault("answer.timeout", "5m")

	v.SetDefault("ingest.extensions", []string{".pdf", ".png", ".jpg", ".jpeg"})
	v.SetDefault("ingest.tree_concurrency", 5)
	v.SetDefault("ingest.bulk_delay", "500ms")
	v.SetDefault("ingest.retry_attempts", 3)
	v.SetDefault("ingest.retry_backoff", "1s")

	v.SetDefault("search.top_k", 5)
}

// SetupEnv binds environment variables with the DOSSIER_ prefix.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("DOSSIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, dserr.Errorf(dserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-populated Viper.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, dserr.Errorf(dserr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, dserr.Errorf(dserr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".dossier")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, dserr.Errorf(dserr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// IndexPath is the serialized vector index artifact.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.bin")
}

// MetadataPath is the serialized metadata array artifact.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "metadata.json")
}

// UploadDir is where uploaded document trees are stored.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.validateSearch()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error

	if len(c.Ingest.Extensions) == 0 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue, "config: ingest.extensions must not be empty"))
	}
	for i, ext := range c.Ingest.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
				"config: ingest.extensions[%d] must start with a dot, got %q", i, ext))
		}
	}

	if c.Ingest.TreeConcurrency < 1 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: ingest.tree_concurrency must be at least 1, got %d", c.Ingest.TreeConcurrency))
	}

	if c.Ingest.RetryAttempts < 1 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: ingest.retry_attempts must be at least 1, got %d", c.Ingest.RetryAttempts))
	}

	if c.Ingest.RetryBackoff < 0 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: ingest.retry_backoff must not be negative, got %s", c.Ingest.RetryBackoff))
	}

	if c.Ingest.BulkDelay < 0 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: ingest.bulk_delay must not be negative, got %s", c.Ingest.BulkDelay))
	}

	return errs
}

func (c *Config) validateSearch() []error {
	var errs []error

	if c.Search.TopK < 1 {
		errs = append(errs, dserr.Errorf(dserr.CodeConfigValidateInvalidValue,
			"config: search.top_k must be at least 1, got %d", c.Search.TopK))
	}

	return errs
}
