package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/serialboot"
)

var bootloaderPort string

var bootloaderCmd = &cobra.Command{
	Use:   "enter-bootloader",
	Short: "Reboot a board running MicroPython or CircuitPython into its bootloader",
	Long:  "Opens the board's USB serial port at 1200 baud, which the Python runtimes take as a request to reboot into the boot ROM, then waits for the RPI-RP2 drive.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		v, err := a.EnterBootloader(cmd.Context(), bootloaderPort)
		if err != nil {
			return err
		}
		slog.Info("Board is in bootloader mode", "drive", v)
		fmt.Fprintln(cmd.OutOrStdout(), v.Path)
		return nil
	},
}

var serialPortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports of attached boards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialboot.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No board serial ports found.")
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	bootloaderCmd.AddCommand(serialPortsCmd)
}
