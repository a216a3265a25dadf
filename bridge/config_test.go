package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Addr != "127.0.0.1:8400" || cfg.MCPTransport != TransportStdio {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "figbridge.yaml")
	yml := `
addr: "0.0.0.0:9000"
mcp_transport: quic
quic:
  addr: "0.0.0.0:9443"
journal_db: data/journal.db
journal:
  synchronous: FULL
  busy_timeout: 250ms
metrics: true
attach_window: 5s
read_timeout: 45s
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" || cfg.MCPTransport != TransportQUIC || cfg.QUIC.Addr != "0.0.0.0:9443" {
		t.Errorf("addresses = %+v", cfg)
	}
	if !cfg.Metrics || cfg.JournalDB != "data/journal.db" {
		t.Errorf("metrics/journal = %v %q", cfg.Metrics, cfg.JournalDB)
	}
	if cfg.Journal.Synchronous != "FULL" || cfg.Journal.BusyTimeout != 250*time.Millisecond {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	if cfg.AttachWindow != 5*time.Second || cfg.ReadTimeout != 45*time.Second {
		t.Errorf("durations = %v %v", cfg.AttachWindow, cfg.ReadTimeout)
	}
	// WHAT: fields absent from the file keep their defaults.
	if cfg.MaxBodyBytes != 16<<20 || cfg.Shutdown != 10*time.Second {
		t.Errorf("defaults lost: %d %v", cfg.MaxBodyBytes, cfg.Shutdown)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"FIGMA_MCP_TOKEN":         "tok",
		"FIGMA_MCP_PORT":          "9100",
		"FIGBRIDGE_MCP_TRANSPORT": "HTTP",
		"FIGBRIDGE_METRICS":       "true",
		"FIGBRIDGE_JOURNAL":       "j.db",
		"LOG_LEVEL":               "debug",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Token != "tok" || cfg.Addr != "127.0.0.1:9100" || cfg.MCPTransport != TransportHTTP {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Metrics || cfg.JournalDB != "j.db" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}

	// WHAT: FIGBRIDGE_ADDR replaces the whole address, port included.
	cfg = DefaultConfig()
	cfg.ApplyEnv(envMap(map[string]string{"FIGMA_MCP_PORT": "9100", "FIGBRIDGE_ADDR": ":7000"}))
	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, want :7000", cfg.Addr)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for _, env := range []map[string]string{
		{"FIGMA_MCP_PORT": "http"},
		{"FIGMA_MCP_PORT": "70000"},
		{"FIGBRIDGE_METRICS": "maybe"},
	} {
		if err := DefaultConfig().ApplyEnv(envMap(env)); err == nil {
			t.Errorf("ApplyEnv(%v) accepted", env)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad addr", func(c *Config) { c.Addr = "8400" }, "addr"},
		{"bad transport", func(c *Config) { c.MCPTransport = "grpc" }, "mcp_transport"},
		{"half tls", func(c *Config) { c.MCPTransport = TransportQUIC; c.QUIC.CertFile = "c.pem" }, "key_file"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero window", func(c *Config) { c.AttachWindow = 0 }, "attach_window"},
		{"zero body", func(c *Config) { c.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"bad synchronous", func(c *Config) { c.Journal.Synchronous = "NORMAL; DROP TABLE x" }, "journal.synchronous"},
		{"negative busy timeout", func(c *Config) { c.Journal.BusyTimeout = -time.Second }, "journal.busy_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
