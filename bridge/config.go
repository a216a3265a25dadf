package bridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MCP transports the process can serve the producer tools on.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportQUIC  = "quic"
	TransportNone  = "none"
)

// Config holds the full bridge configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	Token        string        `yaml:"token"`
	MCPTransport string        `yaml:"mcp_transport"`
	QUIC         QUICConfig    `yaml:"quic"`
	JournalDB    string        `yaml:"journal_db"`
	Journal      JournalConfig `yaml:"journal"`
	Metrics      bool          `yaml:"metrics"`
	LogLevel     string        `yaml:"log_level"`
	AttachWindow time.Duration `yaml:"attach_window"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Shutdown     time.Duration `yaml:"shutdown_timeout"`
}

// QUICConfig configures the MCP-over-QUIC listener. Without a certificate a
// self-signed one is generated at startup.
type QUICConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// JournalConfig tunes the SQLite file behind journal_db.
type JournalConfig struct {
	Synchronous string        `yaml:"synchronous"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultConfig returns the defaults: executor API on 127.0.0.1:8400, MCP on
// stdio, no journal, no metrics.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8400",
		MCPTransport: TransportStdio,
		QUIC:         QUICConfig{Addr: "127.0.0.1:8443"},
		Journal:      JournalConfig{Synchronous: "NORMAL", BusyTimeout: 5 * time.Second},
		LogLevel:     "info",
		AttachWindow: 10 * time.Second,
		ReadTimeout:  DefaultReadTimeout,
		MaxBodyBytes: 16 << 20,
		Shutdown:     10 * time.Second,
	}
}

// LoadConfig returns DefaultConfig, overlaid with the YAML file at path when
// path is not empty, then with the environment, then validated.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays environment variables. FIGMA_MCP_TOKEN and
// FIGMA_MCP_PORT keep the names the plugin documentation uses; the port only
// replaces the port of Addr. FIGBRIDGE_ADDR wins over FIGMA_MCP_PORT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FIGMA_MCP_TOKEN"); ok && v != "" {
		c.Token = v
	}
	if v, ok := lookup("FIGMA_MCP_PORT"); ok && v != "" {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return fmt.Errorf("FIGMA_MCP_PORT: invalid port %q", v)
		}
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			host = "127.0.0.1"
		}
		c.Addr = net.JoinHostPort(host, v)
	}
	if v, ok := lookup("FIGBRIDGE_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("FIGBRIDGE_MCP_TRANSPORT"); ok && v != "" {
		c.MCPTransport = strings.ToLower(v)
	}
	if v, ok := lookup("FIGBRIDGE_JOURNAL"); ok {
		c.JournalDB = v
	}
	if v, ok := lookup("FIGBRIDGE_METRICS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FIGBRIDGE_METRICS: %w", err)
		}
		c.Metrics = b
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks that values are present and sane.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("addr %q: %w", c.Addr, err)
	}
	switch c.MCPTransport {
	case TransportStdio, TransportHTTP, TransportNone:
	case TransportQUIC:
		if c.QUIC.Addr == "" {
			return fmt.Errorf("quic.addr is required with mcp_transport=quic")
		}
		if (c.QUIC.CertFile == "") != (c.QUIC.KeyFile == "") {
			return fmt.Errorf("quic.cert_file and quic.key_file must be set together")
		}
	default:
		return fmt.Errorf("unsupported mcp_transport %q (use stdio, http, quic or none)", c.MCPTransport)
	}
	switch strings.ToUpper(c.Journal.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("unsupported journal.synchronous %q (use OFF, NORMAL, FULL or EXTRA)", c.Journal.Synchronous)
	}
	if c.Journal.BusyTimeout < 0 {
		return fmt.Errorf("journal.busy_timeout must be >= 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	if c.AttachWindow <= 0 {
		return fmt.Errorf("attach_window must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be > 0")
	}
	if c.Shutdown <= 0 {
		return fmt.Errorf("shutdown_timeout must be > 0")
	}
	return nil
}
