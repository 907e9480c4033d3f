// Package config loads node configuration from YAML: listen address,
// transport tunables, name-generation strategy, and the optional etcd
// mapping exchange.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"muxrpc/naming"
	"muxrpc/transport"
)

// Config is the full configuration of one node (client or server side).
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Transport transport.Config `yaml:"transport"`
	Naming    NamingConfig     `yaml:"naming"`
	Etcd      EtcdConfig       `yaml:"etcd"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// NamingConfig selects the wire-identifier generation strategy.
type NamingConfig struct {
	// Strategy is one of "hash", "random", "sequential". Empty means hash.
	Strategy string `yaml:"strategy"`
	Length   int    `yaml:"length"`
	Prefix   string `yaml:"prefix"`
}

// EtcdConfig configures the mapping document exchange. Empty endpoints
// disable it.
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	MappingName string   `yaml:"mapping_name"`
	TTL         int64    `yaml:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:    ServerConfig{Listen: ":7420"},
		Transport: transport.DefaultConfig(),
		Naming:    NamingConfig{Strategy: "hash", Length: naming.DefaultIDLength},
		Etcd:      EtcdConfig{MappingName: "default", TTL: 30},
	}
}

// Load reads and parses a YAML configuration file, applying defaults for
// absent fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals YAML config bytes over the defaults and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be acted on.
func (c *Config) Validate() error {
	switch c.Naming.Strategy {
	case "", "hash", "random", "sequential":
	default:
		return fmt.Errorf("invalid config: unknown naming strategy %q", c.Naming.Strategy)
	}
	if c.Naming.Length < 0 {
		return fmt.Errorf("invalid config: negative naming length %d", c.Naming.Length)
	}
	if c.Transport.MaxReconnects < 0 {
		return fmt.Errorf("invalid config: negative max_reconnects %d", c.Transport.MaxReconnects)
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.MappingName == "" {
		return fmt.Errorf("invalid config: etcd endpoints set but mapping_name empty")
	}
	return nil
}

// Build constructs the configured naming strategy.
func (n NamingConfig) Build() naming.Strategy {
	switch n.Strategy {
	case "random":
		return naming.NewRandomStrategy(n.Length)
	case "sequential":
		return naming.NewSequentialStrategy(n.Prefix)
	default:
		return naming.NewHashStrategy(n.Length)
	}
}
