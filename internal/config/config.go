package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned by Validate when no API credential is set.
var ErrMissingAPIKey = errors.New("no API key configured (set ANTHROPIC_API_KEY or api_key in the config file)")

// Defaults.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8080
	DefaultModel            = "claude-sonnet-4-5"
	DefaultHistoryLimit     = 20
	DefaultResponderTimeout = 2 * time.Minute
	DefaultLogDir           = "logs"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Host  string `toml:"host" yaml:"host"`
	Port  int    `toml:"port" yaml:"port"`
	Model string `toml:"model" yaml:"model"`
	Debug bool   `toml:"debug" yaml:"debug"`

	// Credential for the Anthropic API. Usually supplied through the
	// environment rather than the file.
	APIKey    string `toml:"api_key" yaml:"api_key"`
	APIURL    string `toml:"api_url" yaml:"api_url"`
	MaxTokens int    `toml:"max_tokens" yaml:"max_tokens"`
	// Value the model is told to send in the Server header.
	ServerName string `toml:"server_name" yaml:"server_name"`

	// Turns of conversation kept per connection; 0 keeps everything.
	HistoryLimit     int           `toml:"history_limit" yaml:"history_limit"`
	ResponderTimeout time.Duration `toml:"responder_timeout" yaml:"responder_timeout"`
	// Bytes a connection may have in flight to the kernel before writes
	// are deferred until it drains.
	WriteBuffer int `toml:"write_buffer" yaml:"write_buffer"`

	// Directory for per-connection log files. Empty disables them.
	LogDir string `toml:"log_dir" yaml:"log_dir"`
	// SQLite database archiving every conversation. Empty disables it.
	TranscriptDB string `toml:"transcript_db" yaml:"transcript_db"`
	// Archived connections closed longer ago than this are purged; 0 keeps
	// them forever.
	TranscriptRetention time.Duration `toml:"transcript_retention" yaml:"transcript_retention"`
	// Address of the WebSocket event monitor (e.g. "127.0.0.1:9090").
	// Empty disables it.
	MonitorListen string `toml:"monitor_listen" yaml:"monitor_listen"`
}

// Default returns a Config with every default applied and no credential.
func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Model:            DefaultModel,
		ServerName:       "httpllm",
		HistoryLimit:     DefaultHistoryLimit,
		ResponderTimeout: DefaultResponderTimeout,
		LogDir:           DefaultLogDir,
	}
}

// Load builds the configuration: defaults, then the file at path (if path
// is non-empty), then environment overrides. The result is not validated.
//
// Files ending in .yaml or .yml are read as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HTTPLLM_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("HTTPLLM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTPLLM_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("HTTPLLM_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("HTTPLLM_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HTTPLLM_DEBUG %q: %w", v, err)
		}
		c.Debug = debug
	}
	if v := os.Getenv("HTTPLLM_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.APIKey = v
	}
	return nil
}

// Validate checks the configuration before the server starts. A missing
// API key yields ErrMissingAPIKey.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative, got %d", c.HistoryLimit)
	}
	if c.ResponderTimeout < 0 {
		return fmt.Errorf("responder_timeout must not be negative, got %s", c.ResponderTimeout)
	}
	if c.TranscriptRetention < 0 {
		return fmt.Errorf("transcript_retention must not be negative, got %s", c.TranscriptRetention)
	}
	if c.MonitorListen != "" {
		if _, _, err := net.SplitHostPort(c.MonitorListen); err != nil {
			return fmt.Errorf("invalid monitor_listen %q: %w", c.MonitorListen, err)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
