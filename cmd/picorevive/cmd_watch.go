package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report boards as they are plugged in, reset or removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.ProbeErr; err != nil {
			return fmt.Errorf("cannot watch drives: %w", err)
		}

		events, cancel := a.Poller.Subscribe(1)
		defer cancel()
		if err := a.Poller.Start(cmd.Context()); err != nil {
			return err
		}
		slog.Info("Watching for boards, press Ctrl-C to stop", "interval", a.Poller.Interval())

		w := cmd.OutOrStdout()
		first := true
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case ev := <-events:
				if ev.Transition || first {
					fmt.Fprintln(w, eventLine(ev))
					first = false
				}
			}
		}
	},
}
