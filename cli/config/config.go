// Package config loads formbridge.yaml.
//
// All values are optional and act as defaults for command flags. Flags
// always override config values.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultListen is the hub address used when neither config nor flags set
// one. Loopback only: page contexts reach it from the same machine.
const DefaultListen = "127.0.0.1:8765"

// Browser backends.
const (
	BrowserMemory   = "memory"
	BrowserDevTools = "devtools"
)

// Archive backends.
const (
	ArchiveFS = "fs"
	ArchiveS3 = "s3"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Config represents a formbridge.yaml configuration file.
type Config struct {
	Listen         string        `yaml:"listen"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Log            LogConfig     `yaml:"log"`
	Browser        BrowserConfig `yaml:"browser"`
	Console        ConsoleConfig `yaml:"console"`
	Bridge         BridgeConfig  `yaml:"bridge"`
	Archive        ArchiveConfig `yaml:"archive"`
	Adapter        AdapterConfig `yaml:"adapter"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// BrowserConfig selects how tabs are listed, focused and opened.
type BrowserConfig struct {
	// Backend is "memory" (console tabs connect over the hub) or
	// "devtools" (a running Chrome with remote debugging).
	Backend     string `yaml:"backend"`
	WSEndpoint  string `yaml:"ws_endpoint"`
	DevToolsURL string `yaml:"devtools_url"`
	Binding     string `yaml:"binding"`
}

// ConsoleConfig holds SurveyCTO console defaults.
type ConsoleConfig struct {
	// DefaultServer is used when a stage request names no server.
	DefaultServer string `yaml:"default_server"`
}

// BridgeConfig tunes panel requests.
type BridgeConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ArchiveConfig holds deployment archive settings.
type ArchiveConfig struct {
	Backend string `yaml:"backend"`
	Dataset string `yaml:"dataset"`
	// Path is a directory for fs, or bucket/prefix for s3.
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Mode    string            `yaml:"mode,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// ListenAddr returns Listen or DefaultListen.
func (c *Config) ListenAddr() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}

// BrowserBackend returns Browser.Backend or BrowserMemory.
func (c *Config) BrowserBackend() string {
	if c.Browser.Backend == "" {
		return BrowserMemory
	}
	return c.Browser.Backend
}

// Validate checks enum values and required pairs. A zero Config is valid.
func (c *Config) Validate() error {
	var errs []error
	if b := c.Browser.Backend; b != "" && b != BrowserMemory && b != BrowserDevTools {
		errs = append(errs, fmt.Errorf("browser.backend: unknown backend %q (want memory or devtools)", b))
	}
	if c.BrowserBackend() == BrowserDevTools && c.Browser.WSEndpoint == "" && c.Browser.DevToolsURL == "" {
		errs = append(errs, errors.New("browser: devtools backend requires ws_endpoint or devtools_url"))
	}

	switch c.Archive.Backend {
	case "":
	case ArchiveFS, ArchiveS3:
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("archive.path is required for the %s backend", c.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend: unknown backend %q (want fs or s3)", c.Archive.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
		if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
			errs = append(errs, errors.New("adapter.retries must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: unknown adapter %q (want webhook or redis)", c.Adapter.Type))
	}

	if slices.Contains(c.AllowedOrigins, "") {
		errs = append(errs, errors.New("allowed_origins: empty origin"))
	}
	return errors.Join(errs...)
}
