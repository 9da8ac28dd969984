// Package config loads server settings from a YAML file, falling back
// to defaults when the file is absent. The TCP port itself comes from
// the command line, not from here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "10s" style YAML values as well as plain
// nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("parsing duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all tunable server settings.
type Config struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	WSPort      int    `yaml:"ws_port"` // 0 disables the WebSocket listener

	// Capacity
	MaxClients int `yaml:"max_clients"`

	// Per-write deadline on client sockets
	WriteTimeout Duration `yaml:"write_timeout"`

	// Logging: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BindAddress:  "0.0.0.0",
		WSPort:       0,
		MaxClients:   64,
		WriteTimeout: Duration(10 * time.Second),
		LogLevel:     "info",
	}
}

// Load reads config from a YAML file. A missing file returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
