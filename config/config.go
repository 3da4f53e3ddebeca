// Package config loads the packaging toolkit configuration from YAML.
//
// A missing file is not an error: every field has a default, so a bare
// checkout of the WorkerConnect app builds with no configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the project root when --config is not given.
const DefaultFile = "workerconnect.yaml"

// Config holds all toolkit configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Paths       PathsConfig       `yaml:"paths"`
	Android     PlatformConfig    `yaml:"android"`
	IOS         PlatformConfig    `yaml:"ios"`
	Placeholder PlaceholderConfig `yaml:"placeholder"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AppConfig describes the app being packaged.
type AppConfig struct {
	Name     string `yaml:"name"`      // display and file name, e.g. WorkerConnect
	ID       string `yaml:"id"`        // bundle / package identifier
	Version  string `yaml:"version"`   // marketing version
	BuildNum int    `yaml:"build_num"` // version code
}

// PathsConfig replaces the old scripts' reliance on the working directory.
// Relative paths are resolved against Root.
type PathsConfig struct {
	Root      string `yaml:"root"`
	PublicDir string `yaml:"public_dir"`
	DistDir   string `yaml:"dist_dir"`
	Downloads string `yaml:"downloads"` // subdirectory inside public and dist
}

// PlatformConfig lists the build strategies tried in order before falling
// back to a placeholder.
type PlatformConfig struct {
	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig is one way of producing a real package.
type StrategyConfig struct {
	Name     string        `yaml:"name"`
	Stages   []StageConfig `yaml:"stages"`
	Artifact string        `yaml:"artifact"` // produced package, relative to root
}

// StageConfig is one external command.
type StageConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`     // relative to root
	Timeout string   `yaml:"timeout"` // Go duration; empty means the default
}

// PlaceholderConfig controls the fabricated fallback packages.
type PlaceholderConfig struct {
	Enabled bool   `yaml:"enabled"`
	CRC     string `yaml:"crc"`      // compute or zero
	Docs    bool   `yaml:"docs"`     // write index.html and README.txt
	ModTime string `yaml:"mod_time"` // RFC 3339; empty stores 1980-01-01
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultStageTimeout applies when a stage sets no timeout.
const DefaultStageTimeout = 10 * time.Minute

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "WorkerConnect",
			ID:       "com.workerconnect.app",
			Version:  "1.0.0",
			BuildNum: 1,
		},
		Paths: PathsConfig{
			Root:      ".",
			PublicDir: "public",
			DistDir:   "dist",
			Downloads: "downloads",
		},
		Android: PlatformConfig{
			Strategies: []StrategyConfig{
				{
					Name: "capacitor",
					Stages: []StageConfig{
						{Name: "web build", Command: "npm", Args: []string{"run", "build"}},
						{Name: "cap sync", Command: "npx", Args: []string{"cap", "sync", "android"}},
						{Name: "gradle debug", Command: "./gradlew", Args: []string{"assembleDebug"}, Dir: "android"},
					},
					Artifact: "android/app/build/outputs/apk/debug/app-debug.apk",
				},
				{
					Name: "gradle",
					Stages: []StageConfig{
						{Name: "gradle release", Command: "./gradlew", Args: []string{"assembleRelease"}, Dir: "android"},
					},
					Artifact: "android/app/build/outputs/apk/release/app-release-unsigned.apk",
				},
			},
		},
		IOS: PlatformConfig{
			Strategies: []StrategyConfig{
				{
					Name: "capacitor",
					Stages: []StageConfig{
						{Name: "web build", Command: "npm", Args: []string{"run", "build"}},
						{Name: "cap sync", Command: "npx", Args: []string{"cap", "sync", "ios"}},
						{Name: "xcode archive", Command: "xcodebuild", Args: []string{
							"-workspace", "ios/App/App.xcworkspace",
							"-scheme", "App",
							"-configuration", "Release",
							"-archivePath", "ios/build/App.xcarchive",
							"archive",
						}, Timeout: "30m"},
						{Name: "xcode export", Command: "xcodebuild", Args: []string{
							"-exportArchive",
							"-archivePath", "ios/build/App.xcarchive",
							"-exportPath", "ios/build/export",
							"-exportOptionsPlist", "ios/App/ExportOptions.plist",
						}},
					},
					Artifact: "ios/build/export/App.ipa",
				},
			},
		},
		Placeholder: PlaceholderConfig{
			Enabled: true,
			CRC:     "compute",
			Docs:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Defaults if config file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WORKERCONNECT_ROOT"); v != "" {
		c.Paths.Root = v
	}
	if v := os.Getenv("WORKERCONNECT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WORKERCONNECT_PLACEHOLDER"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Placeholder.Enabled = enabled
		}
	}
}

// Validate checks the values that would otherwise fail deep inside a build.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("config: app.name is required")
	}
	if c.App.ID == "" {
		return fmt.Errorf("config: app.id is required")
	}
	switch c.Placeholder.CRC {
	case "", "compute", "zero":
	default:
		return fmt.Errorf("config: placeholder.crc must be compute or zero, got %q", c.Placeholder.CRC)
	}
	if c.Placeholder.ModTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Placeholder.ModTime); err != nil {
			return fmt.Errorf("config: placeholder.mod_time: %w", err)
		}
	}
	for _, p := range []struct {
		name string
		cfg  PlatformConfig
	}{{"android", c.Android}, {"ios", c.IOS}} {
		for _, s := range p.cfg.Strategies {
			for _, st := range s.Stages {
				if st.Command == "" {
					return fmt.Errorf("config: %s strategy %q: stage %q has no command", p.name, s.Name, st.Name)
				}
				if st.Timeout != "" {
					if _, err := time.ParseDuration(st.Timeout); err != nil {
						return fmt.Errorf("config: %s stage %q timeout: %w", p.name, st.Name, err)
					}
				}
			}
		}
	}
	return nil
}

// Resolve joins a config-relative path onto the project root.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.Root, path)
}

// StageTimeout returns the parsed timeout of a stage.
func (s StageConfig) StageTimeout() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultStageTimeout
}

// Modified returns the configured placeholder timestamp, zero if unset.
func (p PlaceholderConfig) Modified() time.Time {
	t, _ := time.Parse(time.RFC3339, p.ModTime)
	return t
}
