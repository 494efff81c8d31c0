package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chrscato/workcomp-rates-etl/backpressure"
	"github.com/chrscato/workcomp-rates-etl/merge"
	"github.com/chrscato/workcomp-rates-etl/metrics"
	"github.com/chrscato/workcomp-rates-etl/refdata"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// AppConfig represents the full application configuration.
type AppConfig struct {
	Service struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"service"`

	Source struct {
		// Kind selects the source implementation: "parquet" or "csv".
		Kind string `yaml:"kind"`
		Path string `yaml:"path"`
		// State is the jurisdiction this source file covers.
		State string `yaml:"state"`
	} `yaml:"source"`

	Reference refdata.Config `yaml:"reference"`

	Storage struct {
		// Backend selects "s3" or "fs".
		Backend string `yaml:"backend"`
		Bucket  string `yaml:"bucket"`
		Region  string `yaml:"region"`
		// Root is the local directory for the fs backend.
		Root string `yaml:"root"`
		// VerifyCredentials runs an STS identity check during preflight.
		VerifyCredentials bool `yaml:"verify_credentials"`
	} `yaml:"storage"`

	Processing struct {
		ChunkSize int64 `yaml:"chunk_size"`
		WaveSize  int   `yaml:"wave_size"`
		// KeepStaging leaves the staging area in place after a run for
		// debugging.
		KeepStaging bool `yaml:"keep_staging"`
	} `yaml:"processing"`

	Partitioning struct {
		Prefix    string `yaml:"prefix"`
		DimPrefix string `yaml:"dim_prefix"`
	} `yaml:"partitioning"`

	Catalog CatalogConfig `yaml:"catalog"`

	Quality QualityConfig `yaml:"quality"`

	Backpressure backpressure.Config `yaml:"backpressure"`

	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms"`
		MaxDelayMs  int `yaml:"max_delay_ms"`
	} `yaml:"retry"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics metrics.Config `yaml:"metrics"`
}

// LoadAppConfig loads the application configuration from a YAML file.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills in unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "rates-partition-upsert"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "parquet"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "s3"
	}
	if c.Processing.ChunkSize == 0 {
		c.Processing.ChunkSize = 500_000
	}
	if c.Processing.WaveSize == 0 {
		c.Processing.WaveSize = merge.DefaultWaveSize
	}
	if c.Partitioning.Prefix == "" {
		c.Partitioning.Prefix = "partitioned"
	}
	if c.Partitioning.DimPrefix == "" {
		c.Partitioning.DimPrefix = "dims"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Backpressure.ApplyDefaults()
	c.Quality.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Validate validates the application configuration.
func (c *AppConfig) Validate() error {
	switch c.Source.Kind {
	case "parquet", "csv":
	default:
		return fmt.Errorf("source.kind must be parquet or csv, got %q", c.Source.Kind)
	}
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}
	if c.Source.State == "" {
		return fmt.Errorf("source.state is required")
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
		if c.Storage.Region == "" {
			return fmt.Errorf("storage.region is required for the s3 backend")
		}
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the fs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be s3 or fs, got %q", c.Storage.Backend)
	}

	if err := c.Reference.Validate(); err != nil {
		return err
	}
	if c.Processing.ChunkSize < 1 {
		return fmt.Errorf("processing.chunk_size must be positive")
	}
	if c.Processing.WaveSize < 2 {
		return fmt.Errorf("processing.wave_size must be at least 2")
	}
	return nil
}

// RetryPolicy converts the configured retry section into the storage
// layer's policy, falling back to defaults for unset fields.
func (c *AppConfig) RetryPolicy() store.RetryPolicy {
	p := store.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
	}
	if c.Retry.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
	}
	return p
}
