package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/app"
	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/poller"
	"github.com/picorevive/picorevive/pkg/volume"
)

var listDrivesCmd = &cobra.Command{
	Use:   "list-drives",
	Short: "List removable drives and the mode of any board among them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.ProbeErr; err != nil {
			slog.Warn("Drive listing is not available", "err", err)
		}
		printDrives(cmd.OutOrStdout(), a)
		return nil
	},
}

func printDrives(w io.Writer, a *app.App) {
	vols := a.Probe.ListVolumes()
	if len(vols) == 0 {
		fmt.Fprintln(w, "No removable drives found.")
		return
	}
	sel, selected := a.Current()
	for _, v := range vols {
		mark := " "
		if selected && volume.SamePath(v.Path, sel.Volume.Path) {
			mark = "*"
		}
		mode := devices.ClassifyVolume(v)
		fmt.Fprintf(w, "%s %-40s %s\n", mark, v, mode)
	}
	if !selected {
		fmt.Fprintln(w, "No drive selected, use select-drive.")
	}
}

var selectDriveCmd = &cobra.Command{
	Use:   "select-drive [path]",
	Short: "Choose which drive operations act on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		sel, err := a.SelectDrive(args[0])
		if err != nil {
			return err
		}
		slog.Info("Selected drive", "drive", sel.Volume, "mode", sel.Mode)
		fmt.Fprintln(cmd.OutOrStdout(), statusLine(&sel))
		return nil
	},
}

// statusLine describes a selection to the operator.
func statusLine(sel *devices.Selection) string {
	if sel == nil {
		return "Please select a valid drive"
	}
	switch sel.Mode {
	case devices.Bootloader:
		return fmt.Sprintf("Pico detected at %s", sel.Volume.Path)
	case devices.Runtime:
		return fmt.Sprintf("CircuitPython device detected at %s", sel.Volume.Path)
	}
	return "Please select a valid drive"
}

func eventLine(ev poller.Event) string {
	s := statusLine(ev.Selection)
	if ev.Selection != nil && ev.Selection.Mode == devices.Bootloader && !ev.Flashable {
		s += " (operation in progress)"
	}
	return s
}
