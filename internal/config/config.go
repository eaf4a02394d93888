// Package config is responsible for parsing configuration file.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// File represents a configuration file.
type File struct {
	// Relay is the relay listener section of the configuration file.  Must be
	// specified.
	Relay *Relay `yaml:"relay"`

	// Prometheus is the metrics endpoint section.  If not specified, metrics
	// are not served.
	Prometheus *Prometheus `yaml:"prometheus"`
}

// Prometheus represents the prometheus configuration.
type Prometheus struct {
	// Addr is the address where prometheus metrics are exposed.
	Addr string `yaml:"addr"`

	// Port is the port where prometheus metrics will be exposed.
	Port uint16 `yaml:"port"`
}

// Load loads and validates configuration from the specified file.
func Load(path string) (cfg *File, err error) {
	// Ignore G304 here as it's trusted context.
	//nolint:gosec
	b, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(b)
}

// Parse parses and validates configuration from its YAML representation.
func Parse(b []byte) (cfg *File, err error) {
	cfg = &File{}
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	err = validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to validate config file: %w", err)
	}

	return cfg, nil
}

func validate(cfg *File) (err error) {
	r := cfg.Relay
	if r == nil {
		return fmt.Errorf("no relay configured")
	}

	if r.RelayPort <= 0 || r.RelayPort > 65535 {
		return fmt.Errorf("relay.relay-port %d is out of range", r.RelayPort)
	}

	if r.AliasPort < 0 || r.AliasPort > 65535 {
		return fmt.Errorf("relay.alias-port %d is out of range", r.AliasPort)
	}

	if r.MaxConns < 0 {
		return fmt.Errorf("relay.max-conns must not be negative")
	}

	if r.RelayPortBind != "" {
		if _, err = netip.ParseAddr(r.RelayPortBind); err != nil {
			return fmt.Errorf("relay.relay-port-bind: %w", err)
		}
	}

	if !r.TLSOffload.Enabled() && (r.TLSCertPath == "" || r.TLSKeyPath == "") {
		return fmt.Errorf("missing tls configuration")
	}

	if cfg.Prometheus != nil && cfg.Prometheus.Port == 0 {
		return fmt.Errorf("prometheus.port is required")
	}

	return nil
}
