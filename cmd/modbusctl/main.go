// Command modbusctl is a CLI for exercising a Modbus RTU/ASCII master
// against a serial device: one-shot reads and writes, and a long-running
// poll loop that can optionally republish to MQTT and serve ops endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
)

var (
	cfgFile   string
	portFlag  string
	baudFlag  int
	slaveFlag int
	protoFlag string
	verbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "modbusctl",
		Short:   "modbusctl - Modbus RTU/ASCII master CLI",
		Long:    "modbusctl drives a Modbus RTU/ASCII master against a serial device: one-shot reads/writes, and a long-running poll loop with optional MQTT republishing.",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./modbusctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "serial port (overrides config)")
	rootCmd.PersistentFlags().IntVar(&baudFlag, "baud", 0, "baud rate (overrides config)")
	rootCmd.PersistentFlags().IntVar(&slaveFlag, "slave", 0, "slave id (overrides config)")
	rootCmd.PersistentFlags().StringVar(&protoFlag, "protocol", "", "rtu or ascii (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newReadCmd(),
		newWriteCmd(),
		newPollCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("modbusctl %s\n", version)
		},
	}
}
