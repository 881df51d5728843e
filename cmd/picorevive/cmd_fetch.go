package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/fetch"
)

var (
	fetchURL      string
	fetchForce    bool
	fetchSaveLink bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch-assets",
	Short: "Download the firmware bundle into the asset directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Missing() == nil && !fetchForce {
			slog.Info("All firmware images are present, nothing to download")
			return nil
		}

		url, dir := bundleURL(), dataDir()
		images, err := (&fetch.Fetcher{}).Fetch(cmd.Context(), url, dir)
		if err != nil {
			if errors.Is(err, fetch.ErrUnsupportedArchive) {
				return err
			}
			if fetchSaveLink {
				if p, lerr := fetch.SaveLink(url); lerr == nil {
					slog.Info("Saved the download link", "path", p)
				} else {
					slog.Warn("Could not save the download link", "err", lerr)
				}
			}
			return fmt.Errorf("download failed, check your connection: %w", err)
		}
		for _, p := range images {
			slog.Info("Extracted", "path", p)
		}

		if err := a.ReloadAssets(); err != nil {
			return err
		}
		if err := a.Missing(); err != nil {
			reportMissing(err)
			return fmt.Errorf("the bundle from %s did not contain every image", url)
		}
		slog.Info("Firmware images ready", "dir", dir)
		return nil
	},
}
