// Package config loads the YAML configuration shared by the coordinator
// and worker commands.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration file.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Files       FilesConfig       `yaml:"files"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Journal     JournalConfig     `yaml:"journal"`
	Worker      WorkerConfig      `yaml:"worker"`
	Log         LogConfig         `yaml:"log"`
}

// CoordinatorConfig controls the task queue and its rpc listener.
type CoordinatorConfig struct {
	RPCAddr      string        `yaml:"rpc_addr"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// FilesConfig controls where sensor files are read from and how they are
// served to workers.
type FilesConfig struct {
	Dir         string   `yaml:"dir"`
	HTTPAddr    string   `yaml:"http_addr"`
	Origin      string   `yaml:"origin"` // host:port workers download from; empty derives it from HTTPAddr
	SectionSize ByteSize `yaml:"section_size"`
	HandleCache int      `yaml:"handle_cache"`
}

// IngestConfig enables asynchronous file registration through redis. An
// empty RedisAddr registers files synchronously.
type IngestConfig struct {
	RedisAddr   string `yaml:"redis_addr"`
	Queue       string `yaml:"queue"`
	Concurrency int    `yaml:"concurrency"`
}

// JournalConfig points at the sqlite database. An empty DSN disables the
// journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

type WorkerConfig struct {
	Coordinator  string        `yaml:"coordinator"`
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			RPCAddr:      ":9000",
			LeaseTimeout: 100 * time.Second,
			ReapInterval: 2500 * time.Millisecond,
		},
		Files: FilesConfig{
			Dir:         ".",
			HTTPAddr:    ":12345",
			SectionSize: 10 * MiB,
			HandleCache: 64,
		},
		Ingest: IngestConfig{
			Queue:       "default",
			Concurrency: 2,
		},
		Worker: WorkerConfig{
			Coordinator:  "127.0.0.1:9000",
			Count:        1,
			PollInterval: 800 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Coordinator.LeaseTimeout <= 0 {
		errs = append(errs, errors.New("coordinator.lease_timeout must be positive"))
	}
	if c.Coordinator.ReapInterval <= 0 {
		errs = append(errs, errors.New("coordinator.reap_interval must be positive"))
	}
	if c.Files.SectionSize <= 0 {
		errs = append(errs, errors.New("files.section_size must be positive"))
	}
	if c.Files.HandleCache <= 0 {
		errs = append(errs, errors.New("files.handle_cache must be positive"))
	}
	if c.Ingest.RedisAddr != "" && c.Ingest.Queue == "" {
		errs = append(errs, errors.New("ingest.queue is required with ingest.redis_addr"))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker.count must be at least 1"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// AdvertisedOrigin is the host:port written into tasks. Without an explicit
// origin the http port on 127.0.0.1 is used.
func (f FilesConfig) AdvertisedOrigin() string {
	if f.Origin != "" {
		return f.Origin
	}
	host, port, err := net.SplitHostPort(f.HTTPAddr)
	if err != nil {
		return f.HTTPAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
