package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/commatea/modbus-engine/pkg/client"
	"github.com/commatea/modbus-engine/pkg/modbus"
)

func newReadCmd() *cobra.Command {
	var function int
	var address uint16
	var quantity uint16
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read coils/discrete inputs/registers from a slave",
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

			tr := newSerialTransport(cfg)
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := tr.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer tr.Disconnect(context.Background())

			c := client.New(tr, proto, cfg.Device.Port)
			resp, err := c.Read(ctx, modbus.ReadRequest{
				SlaveID:  cfg.Device.SlaveID,
				Function: modbus.FunctionCode(function),
				Address:  address,
				Quantity: quantity,
			})
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			printResponse(resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&function, "function", 3, "function code: 1=coils 2=discrete 3=holding 4=input")
	cmd.Flags().Uint16Var(&address, "address", 0, "starting address")
	cmd.Flags().Uint16Var(&quantity, "quantity", 1, "number of coils/registers to read")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "exchange timeout")
	return cmd
}

func printResponse(resp *modbus.Response) {
	fmt.Printf("slave=%d function=%s address=%d correlation_id=%s\n",
		resp.SlaveID, resp.Function, resp.Address, resp.CorrelationID)
	if len(resp.Registers) > 0 {
		for i, v := range resp.Registers {
			fmt.Printf("  reg[%d] = %d (0x%04X)\n", int(resp.Address)+i, v, v)
		}
	}
	if len(resp.Bits) > 0 {
		for i, v := range resp.Bits {
			fmt.Printf("  bit[%d] = %d\n", int(resp.Address)+i, v)
		}
	}
}

// parseUint16 is used by write.go to parse a single register value flag.
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}
