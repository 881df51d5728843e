package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/assets"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Show the firmware images that will be used",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		w := cmd.OutOrStdout()
		set := a.Assets()
		for _, k := range assets.Kinds {
			if as, ok := set.Get(k); ok {
				fmt.Fprintf(w, "%-10s %s (%d bytes)\n", k, as.Path, as.Size)
			} else {
				fmt.Fprintf(w, "%-10s -\n", k)
			}
		}
		if err := a.Missing(); err != nil {
			reportMissing(err)
			fmt.Fprintf(w, "Run fetch-assets or place the images in %s\n", dataDir())
		}
		return nil
	},
}

func reportMissing(err error) {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		slog.Warn("Missing firmware images", "err", err)
		return
	}
	for _, e := range merr.Errors {
		slog.Warn("Missing firmware image", "err", e)
	}
}

var selectAssetCmd = &cobra.Command{
	Use:   "select-asset [nuke|micro|alternate|custom] [path]",
	Short: "Use a specific UF2 file for an image kind",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := assets.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		as, err := a.SelectAsset(kind, args[1])
		if err != nil {
			return err
		}
		slog.Info("Selected image", "kind", kind, "path", as.Path, "size", as.Size)
		return nil
	},
}
