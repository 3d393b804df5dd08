package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HTTPLLM_HOST", "HTTPLLM_PORT", "HTTPLLM_MODEL", "HTTPLLM_DEBUG", "HTTPLLM_API_URL", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Errorf("addr = %s", cfg.Addr())
	}
	if cfg.HistoryLimit != DefaultHistoryLimit || cfg.ResponderTimeout != DefaultResponderTimeout {
		t.Errorf("limits = %d %s", cfg.HistoryLimit, cfg.ResponderTimeout)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Validate = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "httpllm.toml")
	content := `
host = "0.0.0.0"
port = 9000
api_key = "sk-file"
history_limit = 6
responder_timeout = "45s"
monitor_listen = "127.0.0.1:9100"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr = %s", cfg.Addr())
	}
	if cfg.HistoryLimit != 6 || cfg.ResponderTimeout != 45*time.Second {
		t.Errorf("limits = %d %s", cfg.HistoryLimit, cfg.ResponderTimeout)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("Model = %q, want default", cfg.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "httpllm.yaml")
	content := "port: 8081\nmodel: other-model\nresponder_timeout: 10s\ndebug: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8081 || cfg.Model != "other-model" || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ResponderTimeout != 10*time.Second {
		t.Errorf("ResponderTimeout = %s", cfg.ResponderTimeout)
	}
	if cfg.Host != DefaultHost {
		t.Errorf("Host = %q, want default", cfg.Host)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "httpllm.toml")
	if err := os.WriteFile(path, []byte("port = 9000\napi_key = \"sk-file\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTPLLM_PORT", "7000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("HTTPLLM_DEBUG", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 || cfg.APIKey != "sk-env" || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTPLLM_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, false},
		{"empty model", func(c *Config) { c.Model = "" }, false},
		{"negative history", func(c *Config) { c.HistoryLimit = -1 }, false},
		{"negative timeout", func(c *Config) { c.ResponderTimeout = -time.Second }, false},
		{"bad monitor", func(c *Config) { c.MonitorListen = "nope" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIKey = "sk"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
		})
	}
}
