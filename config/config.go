// Package config provides configuration management for the page verifier.
// It supports YAML configuration files with environment variable overrides.
// Every default matches the values the tool was originally hard-coded with,
// so running without a config file is always a valid setup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported browser drivers
const (
	DriverRod      = "rod"
	DriverChromedp = "chromedp"
)

// Config holds all configuration settings for the verifier
type Config struct {
	// Page under verification
	Target TargetConfig `yaml:"target"`

	// Browser configuration
	Browser BrowserConfig `yaml:"browser"`

	// Post-navigation settle strategy
	Settle SettleConfig `yaml:"settle"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// StrictExit makes the command exit with status 1 on a failed verification.
	StrictExit bool `yaml:"strict_exit"`
}

// TargetConfig describes the page being verified
type TargetConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	ScreenshotPath string `yaml:"screenshot_path"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	Driver            string `yaml:"driver"`
	Headless          bool   `yaml:"headless"`
	BinPath           string `yaml:"bin_path"`
	NoSandbox         bool   `yaml:"no_sandbox"`
	Stealth           bool   `yaml:"stealth"`
	NavigationTimeout int    `yaml:"navigation_timeout_seconds"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
}

// SettleConfig controls how the verifier waits after navigation
type SettleConfig struct {
	DelayMs           int    `yaml:"delay_ms"`
	WaitLoad          bool   `yaml:"wait_load"`
	Selector          string `yaml:"selector"`
	SelectorTimeoutMs int    `yaml:"selector_timeout_ms"`
	WaitStable        bool   `yaml:"wait_stable"`
	IdleTimeoutMs     int    `yaml:"idle_timeout_ms"`
}

// StorageConfig holds verification history settings.
// An empty DatabasePath disables history.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	OutputFile string `yaml:"output_file"`
}

// DefaultConfig returns the configuration the tool runs with when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Name:           "Kanban",
			URL:            "http://localhost:3000/kanban",
			ScreenshotPath: "verification.png",
		},
		Browser: BrowserConfig{
			Driver:            DriverRod,
			Headless:          true,
			BinPath:           "",
			NoSandbox:         false,
			Stealth:           false,
			NavigationTimeout: 0,
			ViewportWidth:     1280,
			ViewportHeight:    720,
		},
		Settle: SettleConfig{
			DelayMs:           5000,
			WaitLoad:          false,
			Selector:          "",
			SelectorTimeoutMs: 10000,
			WaitStable:        false,
			IdleTimeoutMs:     0,
		},
		Storage: StorageConfig{
			DatabasePath: "",
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "text",
			Output:     "stderr",
			OutputFile: "",
		},
		StrictExit: false,
	}
}

// LoadConfig loads configuration from a YAML file and applies environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults
		} else {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	// Target
	if u := os.Getenv("VERIFY_URL"); u != "" {
		c.Target.URL = u
	}
	if name := os.Getenv("VERIFY_NAME"); name != "" {
		c.Target.Name = name
	}
	if path := os.Getenv("VERIFY_SCREENSHOT_PATH"); path != "" {
		c.Target.ScreenshotPath = path
	}
	if strict := os.Getenv("VERIFY_STRICT_EXIT"); strict != "" {
		c.StrictExit = parseBool(strict)
	}

	// Browser settings
	if driver := os.Getenv("BROWSER_DRIVER"); driver != "" {
		c.Browser.Driver = driver
	}
	if headless := os.Getenv("BROWSER_HEADLESS"); headless != "" {
		c.Browser.Headless = parseBool(headless)
	}
	if bin := os.Getenv("BROWSER_BIN"); bin != "" {
		c.Browser.BinPath = bin
	}
	if noSandbox := os.Getenv("BROWSER_NO_SANDBOX"); noSandbox != "" {
		c.Browser.NoSandbox = parseBool(noSandbox)
	}

	// Settle
	if delay := os.Getenv("SETTLE_DELAY_MS"); delay != "" {
		if val, err := strconv.Atoi(delay); err == nil {
			c.Settle.DelayMs = val
		}
	}
	if selector := os.Getenv("SETTLE_SELECTOR"); selector != "" {
		c.Settle.Selector = selector
	}

	// Storage
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}

	// Logging
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Target
	if c.Target.URL == "" {
		return fmt.Errorf("target url is required")
	}
	u, err := url.Parse(c.Target.URL)
	if err != nil {
		return fmt.Errorf("invalid target url %q: %w", c.Target.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("target url %q has no host", c.Target.URL)
	}
	if c.Target.ScreenshotPath == "" {
		return fmt.Errorf("screenshot_path is required")
	}

	// Browser
	switch c.Browser.Driver {
	case DriverRod, DriverChromedp:
	default:
		return fmt.Errorf("invalid browser driver: %s (must be rod or chromedp)", c.Browser.Driver)
	}
	if c.Browser.NavigationTimeout < 0 {
		return fmt.Errorf("navigation_timeout_seconds must not be negative")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}

	// Settle
	if c.Settle.DelayMs < 0 {
		return fmt.Errorf("settle delay_ms must not be negative")
	}
	if c.Settle.SelectorTimeoutMs < 0 || c.Settle.IdleTimeoutMs < 0 {
		return fmt.Errorf("settle timeouts must not be negative")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		return fmt.Errorf("invalid log output: %s (must be stdout or stderr)", c.Logging.Output)
	}

	return nil
}

// GetNavigationTimeout returns the navigation timeout, zero meaning none
func (b *BrowserConfig) GetNavigationTimeout() time.Duration {
	return time.Duration(b.NavigationTimeout) * time.Second
}

// GetDelay returns the fixed post-navigation delay
func (s *SettleConfig) GetDelay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}

func (s *SettleConfig) GetSelectorTimeout() time.Duration {
	return time.Duration(s.SelectorTimeoutMs) * time.Millisecond
}

func (s *SettleConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// StrictExitFromEnv reports whether VERIFY_STRICT_EXIT is set, for failures
// that happen before a configuration exists.
func StrictExitFromEnv() bool {
	return parseBool(os.Getenv("VERIFY_STRICT_EXIT"))
}

// SaveConfig saves the current configuration to a YAML file
func (c *Config) SaveConfig(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
