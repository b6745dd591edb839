package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseFlags parses command-line flags and records which were provided.
func ParseFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEffective merges config file, environment and flags into the
// effective configuration. Precedence: flags > env > file > defaults.
// A missing config file is not an error.
func LoadEffective(flags Flags) (*Config, error) {
	cfgPath := flags.Config
	if !flags.Set["config"] {
		if p := os.Getenv("CHATKIT_CONFIG"); p != "" {
			cfgPath = p
		}
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}
	applyEnv(cfg)
	if flags.Set["addr"] {
		if host, port, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = host
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = flags.Addr
		}
	}
	if flags.Set["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = flags.DB
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATKIT_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = host
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATKIT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATKIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATKIT_SWEEP_CRON"); v != "" {
		cfg.Disappearing.SweepCron = v
	}
	if v := os.Getenv("CHATKIT_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Ingest.Workers = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueCapacity <= 0 {
		cfg.Ingest.QueueCapacity = 1024
	}
	if cfg.Ingest.MaxPayloadBytes <= 0 {
		cfg.Ingest.MaxPayloadBytes = 256 * 1024
	}
	if cfg.Disappearing.SweepBatch <= 0 {
		cfg.Disappearing.SweepBatch = 256
	}
	if cfg.API.RateLimit.RPS <= 0 {
		cfg.API.RateLimit.RPS = 50
	}
	if cfg.API.RateLimit.Burst <= 0 {
		cfg.API.RateLimit.Burst = 100
	}
}
