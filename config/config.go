// Package config handles tiercomp.toml compiler configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/target"
)

// FileName is the name of the configuration file.
const FileName = "tiercomp.toml"

// Config represents a tiercomp.toml configuration.
type Config struct {
	Target    Target    `toml:"target"`
	Assembler Assembler `toml:"assembler"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Cache     Cache     `toml:"cache"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the tiercomp.toml file (set at load time).
	Dir string `toml:"-"`
}

// Target selects the architecture and code buffer limit.
type Target struct {
	Arch         string `toml:"arch"`
	CodeCapacity int    `toml:"code-capacity"`
}

// Assembler configures target method recording and printing.
type Assembler struct {
	PrintMetrics    bool `toml:"print-metrics"`
	PrintAssembly   bool `toml:"print-assembly"`
	PrintCodeBytes  bool `toml:"print-code-bytes"`
	BytesPerLine    int  `toml:"bytes-per-line"`
	TraceRelocation bool `toml:"trace-relocation"`
}

// Pipeline configures background and batch compilation.
type Pipeline struct {
	Workers       int `toml:"workers"`
	QueueCapacity int `toml:"queue-capacity"`
}

// Cache configures the artifact cache. An empty path disables it.
type Cache struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Target.Arch == "" {
		c.Target.Arch = string(asm.ArchAMD64)
	}
	if c.Target.CodeCapacity <= 0 {
		c.Target.CodeCapacity = asm.DefaultCodeCapacity
	}
	if c.Assembler.BytesPerLine <= 0 {
		c.Assembler.BytesPerLine = target.DefaultOptions().BytesPerLine
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueCapacity <= 0 {
		c.Pipeline.QueueCapacity = 100
	}
}

// Load parses a tiercomp.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a tiercomp.toml file,
// then loads and returns the configuration. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if _, err := asm.New(c.Arch(), 1); err != nil {
		return err
	}
	return nil
}

// Arch returns the configured architecture.
func (c *Config) Arch() asm.Arch {
	return asm.Arch(c.Target.Arch)
}

// AssemblerOptions returns the options for target method assemblers.
func (c *Config) AssemblerOptions() target.Options {
	return target.Options{
		PrintMetrics:    c.Assembler.PrintMetrics,
		PrintAssembly:   c.Assembler.PrintAssembly,
		PrintCodeBytes:  c.Assembler.PrintCodeBytes,
		BytesPerLine:    c.Assembler.BytesPerLine,
		TraceRelocation: c.Assembler.TraceRelocation,
	}
}

// CachePath returns the absolute artifact cache path, or "" when caching
// is disabled. Relative paths are taken from the configuration directory.
func (c *Config) CachePath() string {
	if c.Cache.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}

// LogFile returns the log file path, or nil to log to stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}
