package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Disappearing DisappearingConfig `yaml:"disappearing"`
	Payments     PaymentsConfig     `yaml:"payments"`
	Ingest       IngestConfig       `yaml:"ingest"`
	API          APIConfig          `yaml:"api"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns the combined listen address.
func (c *Config) Addr() string {
	addr := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// StorageConfig holds the entity store location.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DisappearingConfig holds the process-wide defaults applied to newly
// created threads plus background sweep tuning.
type DisappearingConfig struct {
	DefaultEnabled bool     `yaml:"default_enabled"`
	DefaultTimer   Duration `yaml:"default_timer"`
	SweepCron      string   `yaml:"sweep_cron"`
	SweepBatch     int      `yaml:"sweep_batch"`
}

// PaymentsConfig holds ledger interaction tunables.
type PaymentsConfig struct {
	SubmitTimeout Duration `yaml:"submit_timeout"`
	ConfirmRetry  Duration `yaml:"confirm_retry"`
}

// IngestConfig controls the inbound event worker pool.
type IngestConfig struct {
	Workers         int       `yaml:"workers"`
	QueueCapacity   int       `yaml:"queue_capacity"`
	MaxPayloadBytes SizeBytes `yaml:"max_payload_bytes"`
}

// APIConfig holds query-surface settings.
type APIConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration and supports YAML parsing from strings like
// "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
