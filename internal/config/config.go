// Package config loads swarm-dump's configuration document, layering
// a YAML file with environment variables and CLI flags via viper, and
// decoding the merged result with mapstructure.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/swarmdump/swarm/internal/capture"
	"github.com/swarmdump/swarm/internal/core"
	"github.com/swarmdump/swarm/internal/log"
)

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	// Backend is "pcap" or "afpacket". Defaults to "pcap".
	Backend string `mapstructure:"backend"`

	Iface     string `mapstructure:"iface"`
	ReadFile  string `mapstructure:"read_file"`
	SnapLen   int    `mapstructure:"snap_len"`
	Promisc   bool   `mapstructure:"promisc"`
	TimeoutMs int    `mapstructure:"timeout_ms"`

	// BPF is a filter expression, optionally templated with
	// {local_ip}/{remote_ip}/{remote_port}, substituted from the
	// fields below before it reaches the capture source.
	BPF        string `mapstructure:"bpf"`
	LocalIP    string `mapstructure:"local_ip"`
	RemoteIP   string `mapstructure:"remote_ip"`
	RemotePort int    `mapstructure:"remote_port"`

	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
}

// SessionConfig tunes the TCP session decoder's LRU table. Only
// Capacity reaches the decoder; Timeout and MaxTTL are decoded but not
// applied, and the decoder always uses its fixed 300-second idle
// timeout and 3600-bucket time wheel.
type SessionConfig struct {
	Timeout  int `mapstructure:"timeout_seconds"`
	MaxTTL   int `mapstructure:"max_ttl_seconds"`
	Capacity int `mapstructure:"capacity"`
}

// HandlerConfig configures the event-delivery fan-out.
type HandlerConfig struct {
	Console *ConsoleHandlerConfig `mapstructure:"console"`
}

// ConsoleHandlerConfig configures the built-in console handler.
type ConsoleHandlerConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
}

// Config is the program's full, merged configuration.
type Config struct {
	Capture CaptureConfig    `mapstructure:"capture"`
	Session SessionConfig    `mapstructure:"session"`
	Handler HandlerConfig    `mapstructure:"handler"`
	Logger  log.LoggerConfig `mapstructure:"logger"`
}

// Default returns the configuration used when no file and no
// overrides are supplied.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend: "pcap",
			SnapLen: 65535,
		},
		Session: SessionConfig{
			Timeout:  300,
			MaxTTL:   3600,
			Capacity: 65535,
		},
		Handler: HandlerConfig{
			Console: &ConsoleHandlerConfig{Format: "text"},
		},
		Logger: log.LoggerConfig{
			Level:   "info",
			Pattern: "%time [%level] %caller: %msg\n",
			Time:    "2006-01-02 15:04:05",
			Stdout:  true,
		},
	}
}

// Load merges defaults, an optional YAML file at path, and whatever
// values v already holds (typically bound command-line flags) into a
// Config. Environment variables are read only for keys bound on v
// with BindEnv: AutomaticEnv is enabled with the SWARM prefix, but no
// key replacer is set, so a nested key such as capture.snap_len is not
// picked up from SWARM_CAPTURE_SNAP_LEN unless it is bound explicitly.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg := Default()

	v.SetEnvPrefix("SWARM")
	v.AutomaticEnv()

	if path != "" {
		if err := validateYAMLDocument(path); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decoding merged configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlDocument mirrors Config's top-level shape for strict decoding.
// viper's own merge is deliberately lenient about unknown keys (env
// vars and flags may legitimately add keys it doesn't recognize), so
// this catches a typo'd top-level section (e.g. "capure:") before it
// silently falls back to defaults.
type yamlDocument struct {
	Capture map[string]any `yaml:"capture"`
	Session map[string]any `yaml:"session"`
	Handler map[string]any `yaml:"handler"`
	Logger  map[string]any `yaml:"logger"`
}

func validateYAMLDocument(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc yamlDocument
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config: %s has an unrecognized top-level key: %w", path, err)
	}
	return nil
}

// ResolvedBPF returns the capture's BPF filter with any
// {local_ip}/{remote_ip}/{remote_port} placeholders substituted from
// the flow-targeting fields, so a single configured filter template
// can be reused across flows instead of hand-building the string per
// target at the call site.
func (c *Config) ResolvedBPF() string {
	if c.Capture.LocalIP == "" && c.Capture.RemoteIP == "" && c.Capture.RemotePort == 0 {
		return c.Capture.BPF
	}
	return capture.FormatBPF(c.Capture.BPF, c.Capture.LocalIP, c.Capture.RemoteIP, c.Capture.RemotePort)
}

// Validate rejects a configuration that cannot be used to open a
// capture source.
func (c *Config) Validate() error {
	if c.Capture.Iface == "" && c.Capture.ReadFile == "" {
		return fmt.Errorf("config: capture.iface or capture.read_file is required: %w", core.ErrConfigInvalid)
	}
	if c.Capture.Iface != "" && c.Capture.ReadFile != "" {
		return fmt.Errorf("config: capture.iface and capture.read_file are mutually exclusive: %w", core.ErrConfigInvalid)
	}
	switch c.Capture.Backend {
	case "pcap", "afpacket":
	default:
		return fmt.Errorf("config: unknown capture backend %q: %w", c.Capture.Backend, core.ErrConfigInvalid)
	}
	return nil
}
