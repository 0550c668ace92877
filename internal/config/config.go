// Package config loads the optional leakcheck.yaml (or leakcheck.toml)
// project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"

	"github.com/go-drift/leakcheck/internal/logger"
	"github.com/go-drift/leakcheck/pkg/leakcheck"
)

// FileNames are the configuration files looked up in a project directory,
// in order of preference.
var FileNames = []string{"leakcheck.yaml", "leakcheck.yml", "leakcheck.toml"}

// Config represents the leakcheck configuration file.
type Config struct {
	App      AppConfig      `yaml:"app" toml:"app"`
	Detector DetectorConfig `yaml:"detector" toml:"detector"`
	Report   ReportConfig   `yaml:"report" toml:"report"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// AppConfig contains application metadata.
type AppConfig struct {
	Name string `yaml:"name,omitempty" toml:"name,omitempty"`
}

// DetectorConfig tunes the leak detector.
type DetectorConfig struct {
	GracePeriod    time.Duration `yaml:"grace_period" toml:"grace_period"`
	BatchWindow    time.Duration `yaml:"batch_window" toml:"batch_window"`
	MaxParentDepth int           `yaml:"max_parent_depth" toml:"max_parent_depth"`
	CaptureStacks  bool          `yaml:"capture_stacks" toml:"capture_stacks"`
}

// ReportConfig selects the report sinks.
type ReportConfig struct {
	Log   bool   `yaml:"log" toml:"log"`
	JSONL string `yaml:"jsonl,omitempty" toml:"jsonl,omitempty"`
	Store string `yaml:"store,omitempty" toml:"store,omitempty"`
}

// ServerConfig configures the debug HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LogConfig configures the tool's own logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty"`
	Format string `yaml:"format,omitempty" toml:"format,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			GracePeriod:    leakcheck.DefaultGracePeriod,
			BatchWindow:    16 * time.Millisecond,
			MaxParentDepth: leakcheck.DefaultMaxParentDepth,
		},
		Report: ReportConfig{Log: true},
		Server: ServerConfig{Addr: "127.0.0.1:9797"},
	}
}

// Load reads the configuration file at path on top of the defaults. The
// format follows the extension; .toml is TOML, anything else is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	cfg := Default()
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// Find returns the first configuration file present in dir, or "" if there
// is none.
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadOptional reads the configuration file in dir if present and returns
// the defaults otherwise.
func LoadOptional(dir string) (*Config, string, error) {
	path := Find(dir)
	if path == "" {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Detector.GracePeriod <= 0 {
		return fmt.Errorf("detector.grace_period must be positive (got %s)", c.Detector.GracePeriod)
	}
	if c.Detector.BatchWindow < 0 {
		return fmt.Errorf("detector.batch_window cannot be negative (got %s)", c.Detector.BatchWindow)
	}
	if c.Detector.MaxParentDepth < 1 {
		return fmt.Errorf("detector.max_parent_depth must be at least 1 (got %d)", c.Detector.MaxParentDepth)
	}
	if c.Log.Level != "" {
		if _, ok := logger.ParseLevel(c.Log.Level); !ok {
			return fmt.Errorf("log.level %q is not a level", c.Log.Level)
		}
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		return fmt.Errorf("log.format must be text or json (got %q)", f)
	}
	return nil
}

// DetectorOptions converts the detector section to leakcheck.Options.
// Hub, Scheduler and Logger are left for the caller.
func (c *Config) DetectorOptions() leakcheck.Options {
	return leakcheck.Options{
		GracePeriod:    c.Detector.GracePeriod,
		BatchWindow:    c.Detector.BatchWindow,
		MaxParentDepth: c.Detector.MaxParentDepth,
		CaptureStacks:  c.Detector.CaptureStacks,
	}
}

// LoggerConfig applies the log section on top of base.
func (c *Config) LoggerConfig(base logger.Config) logger.Config {
	if level, ok := logger.ParseLevel(c.Log.Level); ok && c.Log.Level != "" {
		base.Level = level
	}
	if c.Log.Format != "" {
		base.Format = c.Log.Format
	}
	return base
}

// Resolved contains the configuration with project defaults filled in.
type Resolved struct {
	*Config
	Root       string
	Path       string
	ModulePath string
	AppName    string
}

// Resolve loads the configuration in dir and fills in defaults derived
// from the project. A missing go.mod is not an error; the app name then
// falls back to the directory name.
func Resolve(dir string) (*Resolved, error) {
	cfg, path, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	modPath, err := modulePath(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	appName := strings.TrimSpace(cfg.App.Name)
	if appName == "" {
		appName = defaultAppName(modPath, dir)
	}
	return &Resolved{
		Config:     cfg,
		Root:       dir,
		Path:       path,
		ModulePath: modPath,
		AppName:    appName,
	}, nil
}

func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("could not determine module path from go.mod")
	}
	return path, nil
}

// defaultAppName is the last element of the module path without its major
// version suffix, or the directory name.
func defaultAppName(modulePath, dir string) string {
	base := filepath.Base(dir)
	if modulePath != "" {
		prefix, _, ok := module.SplitPathVersion(modulePath)
		if ok {
			parts := strings.Split(prefix, "/")
			base = parts[len(parts)-1]
		}
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "app"
	}
	return base
}
