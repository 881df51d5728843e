package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/devices"
)

var usbDevicesCmd = &cobra.Command{
	Use:   "usb-devices",
	Short: "List attached RP2040/RP2350 boards on the USB bus",
	Long:  "Lists boards by USB identity, which also finds boards whose drive is not mounted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := newContext()
		if err != nil {
			return fmt.Errorf("failed to initialize USB: %w", err)
		}
		defer ctx.Close()

		devs, err := devices.ScanUSB(ctx)
		if err != nil {
			slog.Debug("Some devices could not be opened", "err", err)
		}
		w := cmd.OutOrStdout()
		if len(devs) == 0 {
			fmt.Fprintln(w, "No boards found.")
			return nil
		}
		for _, d := range devs {
			fmt.Fprintln(w, d)
		}
		if devices.Attached(devs, devices.Bootloader) {
			slog.Info("A board is in bootloader mode; if no RPI-RP2 drive is listed by list-drives, it is not mounted")
		}
		return nil
	},
}
