package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/commatea/modbus-engine/pkg/client"
	"github.com/commatea/modbus-engine/pkg/modbus"
)

func newWriteCmd() *cobra.Command {
	var function int
	var address uint16
	var valueFlag string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a single coil/register or multiple coils/registers to a slave",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := newLogger(cfg); err != nil {
				return err
			}
			proto, err := protocolFromConfig(cfg)
			if err != nil {
				return err
			}

			value, err := parseWriteValue(function, valueFlag)
			if err != nil {
				return fmt.Errorf("parse --value: %w", err)
			}

			tr := newSerialTransport(cfg)
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := tr.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer tr.Disconnect(context.Background())

			c := client.New(tr, proto, cfg.Device.Port)
			resp, err := c.Write(ctx, modbus.WriteRequest{
				SlaveID:  cfg.Device.SlaveID,
				Function: modbus.FunctionCode(function),
				Address:  address,
				Value:    value,
			})
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Printf("write ok: slave=%d function=%s address=%d correlation_id=%s\n",
				resp.SlaveID, resp.Function, resp.Address, resp.CorrelationID)
			return nil
		},
	}

	cmd.Flags().IntVar(&function, "function", 6, "function code: 5=single coil 6=single register 15=multiple coils 16=multiple registers")
	cmd.Flags().Uint16Var(&address, "address", 0, "target address")
	cmd.Flags().StringVar(&valueFlag, "value", "", "value to write; comma-separated for FC15/FC16, 0/1/true/false for FC05")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "exchange timeout")
	return cmd
}

// parseWriteValue shapes --value for BuildWritePDU according to function,
// matching the Value contract documented on modbus.WriteRequest.
func parseWriteValue(function int, raw string) (any, error) {
	switch modbus.FunctionCode(function) {
	case modbus.FuncWriteSingleCoil:
		switch strings.ToLower(raw) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off":
			return false, nil
		default:
			return nil, fmt.Errorf("expected 0/1/true/false, got %q", raw)
		}
	case modbus.FuncWriteSingleRegister:
		v, err := parseUint16(raw)
		if err != nil {
			return nil, err
		}
		return v, nil
	case modbus.FuncWriteMultipleCoils:
		parts := strings.Split(raw, ",")
		bits := make([]bool, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseBool(strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			bits[i] = v
		}
		return bits, nil
	case modbus.FuncWriteMultipleRegisters:
		parts := strings.Split(raw, ",")
		regs := make([]uint16, len(parts))
		for i, p := range parts {
			v, err := parseUint16(strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			regs[i] = v
		}
		return regs, nil
	default:
		return nil, fmt.Errorf("unsupported write function code %d", function)
	}
}
