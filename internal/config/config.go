// Package config loads cctrace's on-disk configuration: a YAML record
// naming the log destination, the consumer socket, and which features to
// trace.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/cctrace/internal/trace"
)

const defaultBatchSize = 64

// Config is the full on-disk configuration record. cmd/cctrace loads one
// of these, applies any flag overrides, and derives a trace.Config from
// it to pass to trace.Init.
type Config struct {
	LogFile  string `yaml:"log_file"` // "-" means stderr
	LogLevel int    `yaml:"log_level"`

	SocketPath string `yaml:"socket_path"`
	BatchSize  int    `yaml:"batch_size"`

	TracePC       bool `yaml:"trace_pc"`
	TraceReads    bool `yaml:"trace_reads"`
	TraceWrites   bool `yaml:"trace_writes"`
	TraceInstrs   bool `yaml:"trace_instrs"`
	TraceSyscalls bool `yaml:"trace_syscalls"`
	TraceBranches bool `yaml:"trace_branches"`
}

func (c *Config) normalize() {
	if c.LogFile == "" {
		c.LogFile = "-"
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.normalize()
	return &cfg, nil
}

// TraceConfig derives the internal/trace.Config the core needs from the
// full on-disk record.
func (c *Config) TraceConfig() trace.Config {
	return trace.Config{
		SocketPath:    c.SocketPath,
		BatchSize:     c.BatchSize,
		TracePC:       c.TracePC,
		TraceReads:    c.TraceReads,
		TraceWrites:   c.TraceWrites,
		TraceInstrs:   c.TraceInstrs,
		TraceSyscalls: c.TraceSyscalls,
		TraceBranches: c.TraceBranches,
	}
}
