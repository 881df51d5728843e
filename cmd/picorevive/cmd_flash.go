package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/assets"
	"github.com/picorevive/picorevive/pkg/flash"
)

var (
	flashFile  string
	flashDrive string
	resetYes   bool
	resetDrive string
)

var errNotConfirmed = errors.New("reset erases the board, pass --yes to confirm")

var resetCmd = &cobra.Command{
	Use:   "reset-device",
	Short: "Erase the board's flash with the nuke image",
	Long:  "Copies flash_nuke.uf2 to a board in bootloader mode, which erases its flash and reboots it into the bootloader. Everything stored on the board is lost.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return errNotConfirmed
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		t, err := a.Reset(cmd.Context(), resetDrive)
		if err != nil {
			return err
		}
		res, err := wait(cmd.Context(), t)
		if err != nil {
			return err
		}
		slog.Info("Reset done", "drive", res.Volume)
		return res.Err()
	},
}

var flashCmd = &cobra.Command{
	Use:   "flash [micro|alternate|custom]",
	Short: "Erase the board and write a firmware image",
	Long:  "Erases a board in bootloader mode with the nuke image, waits for it to come back and writes the chosen firmware. micro is MicroPython, alternate is CircuitPython, custom is the image given with --file or select-asset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := assets.ParseKind(args[0])
		if err != nil {
			return err
		}
		if kind == assets.KindNuke {
			return fmt.Errorf("use reset-device to write the nuke image")
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if flashFile != "" {
			if _, err := a.SelectAsset(kind, flashFile); err != nil {
				return err
			}
		}
		t, err := a.Flash(cmd.Context(), kind, flashDrive)
		if err != nil {
			return err
		}
		res, err := wait(cmd.Context(), t)
		if err != nil {
			return err
		}
		slog.Info("Flash done", "firmware", kind, "drive", res.Volume)
		return res.Err()
	},
}

// wait blocks until t finishes. An interrupt does not stop a sequence that
// already wrote to the board, so the wait continues after logging it.
func wait(ctx context.Context, t *flash.Task) (flash.Result, error) {
	res, err := t.Wait(ctx)
	if ctx.Err() == nil {
		return res, err
	}
	select {
	case <-t.Done():
	default:
		slog.Warn("Interrupted, waiting for the board to settle", "state", t.State())
	}
	<-t.Done()
	return t.Result()
}
