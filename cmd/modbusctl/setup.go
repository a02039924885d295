package main

import (
	"fmt"

	"github.com/commatea/modbus-engine/pkg/config"
	"github.com/commatea/modbus-engine/pkg/logger"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport"
	"github.com/commatea/modbus-engine/pkg/transport/serial"
)

// loadConfig loads the YAML config (or defaults), then applies the
// persistent CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if portFlag != "" {
		cfg.Device.Port = portFlag
	}
	if baudFlag != 0 {
		cfg.Device.BaudRate = baudFlag
	}
	if slaveFlag != 0 {
		cfg.Device.SlaveID = uint8(slaveFlag)
	}
	if protoFlag != "" {
		cfg.Protocol = protoFlag
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if cfg.Device.Port == "" {
		return nil, fmt.Errorf("no serial port configured: pass --port or set device.port in config")
	}
	return cfg, nil
}

// newLogger builds a logger.Logger from the resolved config and sets it as
// the package-global logger so every component logs consistently.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(log)
	return log, nil
}

// newSerialTransport builds a pkg/transport/serial.Transport from cfg.Device.
func newSerialTransport(cfg *config.Config) *serial.Transport {
	sc := serial.DefaultConfig()
	sc.Port = cfg.Device.Port
	sc.BaudRate = cfg.Device.BaudRate
	sc.DataBits = cfg.Device.DataBits
	sc.Parity = cfg.Device.Parity
	sc.StopBits = cfg.Device.StopBits
	if cfg.Device.Timeout > 0 {
		sc.ReadTimeout = cfg.Device.Timeout
	}
	return serial.NewWithConfig(sc)
}

// protocolFromConfig maps the config's string protocol field to the
// modbus.Protocol enum.
func protocolFromConfig(cfg *config.Config) (modbus.Protocol, error) {
	switch cfg.Protocol {
	case "rtu", "":
		return modbus.RTU, nil
	case "ascii":
		return modbus.ASCII, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
}

var _ transport.Transport = (*serial.Transport)(nil)
