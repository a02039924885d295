// Package config handles loading and validating the YAML configuration
// consumed by the cmd/modbusctl CLI and the MQTT bridge. The protocol
// engine itself (pkg/modbus, pkg/client) stays configuration-free beyond
// the per-exchange options it takes programmatically.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default config file locations, searched in order when no path is given.
var searchPaths = []string{
	"./modbusctl.yaml",
	"./modbusctl.yml",
	"~/.config/modbusctl/config.yaml",
	"/etc/modbusctl/config.yaml",
}

// Config is the top-level document: one transport/device definition, the
// protocol to speak over it, the poll jobs to run, and optional MQTT
// republishing.
type Config struct {
	Device   DeviceConfig  `yaml:"device" validate:"required"`
	Protocol string        `yaml:"protocol" validate:"required,oneof=rtu ascii"`
	Polls    []PollConfig  `yaml:"polls" validate:"dive"`
	MQTT     *MQTTConfig   `yaml:"mqtt,omitempty" validate:"omitempty"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// DeviceConfig describes the serial port (or other transport) to connect
// to and the slave id to address.
type DeviceConfig struct {
	SlaveID  uint8             `yaml:"slave_id" validate:"required,min=1,max=247"`
	Port     string            `yaml:"port" validate:"required"`
	BaudRate int               `yaml:"baudrate" validate:"required,min=1"`
	DataBits int               `yaml:"databits" validate:"min=5,max=8"`
	Parity   string            `yaml:"parity" validate:"omitempty,oneof=none odd even mark space"`
	StopBits float64           `yaml:"stopbits"`
	Timeout  time.Duration     `yaml:"timeout"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// PollConfig describes one periodic read job driven by the bridge's
// polling loop.
type PollConfig struct {
	Name       string `yaml:"name" validate:"required"`
	Function   int    `yaml:"function" validate:"oneof=1 2 3 4"`
	Address    uint16 `yaml:"address"`
	Quantity   uint16 `yaml:"quantity" validate:"required,min=1"`
	IntervalMS int    `yaml:"interval_ms" validate:"required,min=1"`
	Topic      string `yaml:"topic,omitempty"`
}

// Interval returns the poll interval as a time.Duration.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// MQTTConfig describes the broker the bridge republishes decoded responses
// to (pkg/bridge).
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url" validate:"required"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	TopicRoot string `yaml:"topic_root" validate:"required"`
	QoS       byte   `yaml:"qos" validate:"max=2"`
}

// LoggingConfig is the validated input pkg/logger builds its slog handler
// from.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout file"`
	File   string `yaml:"file,omitempty" validate:"required_if=Output file"`
}

// MetricsConfig controls the ops HTTP surface (cmd/modbusctl's /metrics,
// /healthz mux).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads configuration from path, or from the first existing default
// search path if path is empty, or returns DefaultConfig if none exist.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}
	for _, p := range searchPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}
	return DefaultConfig(), nil
}

// loadFile reads and validates configuration from a specific file.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save serializes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a configuration with Modbus RTU-typical serial
// defaults and metrics disabled.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			SlaveID:  1,
			BaudRate: 9600,
			DataBits: 8,
			Parity:   "none",
			StopBits: 1,
			Timeout:  time.Second,
		},
		Protocol: "rtu",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9191",
		},
	}
}
