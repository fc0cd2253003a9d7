package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/compliancemgr/internal/logger"
)

// Config represents the application configuration
type Config struct {
	Database               DatabaseConfig   `yaml:"database"`
	Evidence               EvidenceConfig   `yaml:"evidence"`
	Scanning               ScanningConfig   `yaml:"scanning"`
	Audit                  AuditConfig      `yaml:"audit"`
	Logging                logger.LogConfig `yaml:"logging"`
	Region                 string           `yaml:"region" validate:"required"`
	AutoRemediationEnabled bool             `yaml:"auto_remediation_enabled"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path         string        `yaml:"path" validate:"required"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=1"`
}

// EvidenceConfig represents object storage configuration
type EvidenceConfig struct {
	Bucket      string        `yaml:"bucket" validate:"required"`
	URLValidity time.Duration `yaml:"url_validity"`
}

// ScanningConfig bounds the detection and remediation engines
type ScanningConfig struct {
	DetectWorkers      int           `yaml:"detect_workers" validate:"gte=1,lte=64"`
	MaxConcurrentScans int64         `yaml:"max_concurrent_scans" validate:"gte=1"`
	DetectTimeout      time.Duration `yaml:"detect_timeout"`
	RemediateTimeout   time.Duration `yaml:"remediate_timeout"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
}

// AuditConfig controls audit log retention
type AuditConfig struct {
	RetentionDays int           `yaml:"retention_days" validate:"gte=1"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "compliancemgr.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 25,
		},
		Evidence: EvidenceConfig{
			Bucket:      "compliance-evidence-bucket",
			URLValidity: time.Hour,
		},
		Scanning: ScanningConfig{
			DetectWorkers:      8,
			MaxConcurrentScans: 32,
			DetectTimeout:      60 * time.Second,
			RemediateTimeout:   120 * time.Second,
			ScanTimeout:        30 * time.Minute,
		},
		Audit: AuditConfig{
			RetentionDays: 2555,
			PruneInterval: 24 * time.Hour,
		},
		Logging: logger.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
		Region: "us-east-1",
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COMPLIANCEMGR_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("COMPLIANCEMGR_EVIDENCE_BUCKET"); v != "" {
		c.Evidence.Bucket = v
	}
	if v := os.Getenv("COMPLIANCEMGR_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("COMPLIANCEMGR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COMPLIANCEMGR_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Audit.RetentionDays = days
		}
	}
	if v := os.Getenv("COMPLIANCEMGR_ENABLE_AUTO_REMEDIATION"); v != "" {
		c.AutoRemediationEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("COMPLIANCEMGR_DETECT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scanning.DetectWorkers = n
		}
	}
	if v := os.Getenv("COMPLIANCEMGR_MAX_CONCURRENT_SCANS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Scanning.MaxConcurrentScans = n
		}
	}
}
