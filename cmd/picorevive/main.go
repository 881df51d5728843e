package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/picorevive/picorevive/pkg/flash"
)

var rootCmd = &cobra.Command{
	Use:   "picorevive",
	Short: "picorevive recovers and reflashes RP2040 boards over USB mass storage",
	Long: `Watches for Raspberry Pi Pico boards exposing their bootloader (RPI-RP2) or
CircuitPython (CIRCUITPY) drive, erases them with the nuke image and writes
MicroPython, CircuitPython or a custom UF2 image.

Exit codes: 0 success, 1 device or image missing, 2 copy or verification
failure, 3 finished but the board was not seen coming back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.Flags().Changed("verbose"))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogging()
	},
}

var (
	verboseLog   bool
	logFile      string
	assetDir     string
	statePath    string
	pollInterval string
)

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging (default $PICOREVIVE_VERBOSE)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write the log to this file (default $PICOREVIVE_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&assetDir, "asset-dir", "", "Directory holding the firmware images (default $PICOREVIVE_ASSET_DIR or the user data dir)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state-file", "", "File remembering the selected drive and images (default $PICOREVIVE_STATE_FILE or the user state dir)")
	rootCmd.PersistentFlags().StringVar(&pollInterval, "poll-interval", "", "Drive polling interval (default $PICOREVIVE_POLL_INTERVAL or 1s)")

	flashCmd.Flags().StringVarP(&flashFile, "file", "f", "", "Use this UF2 image instead of the resolved one")
	flashCmd.Flags().StringVarP(&flashDrive, "drive", "d", "", "Bootloader drive to flash (default: the selected or only one)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Confirm erasing the board")
	resetCmd.Flags().StringVarP(&resetDrive, "drive", "d", "", "Bootloader drive to reset (default: the selected or only one)")
	fetchCmd.Flags().StringVar(&fetchURL, "url", "", "Bundle URL (default $PICOREVIVE_BUNDLE_URL or the upstream bundle)")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "Download even if all images are present")
	fetchCmd.Flags().BoolVar(&fetchSaveLink, "save-link", false, "On failure, save the download link to the desktop")
	bootloaderCmd.Flags().StringVarP(&bootloaderPort, "port", "p", "", "Serial port of the board (default: the only one found)")

	rootCmd.AddCommand(listDrivesCmd)
	rootCmd.AddCommand(selectDriveCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(selectAssetCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(bootloaderCmd)
	rootCmd.AddCommand(usbDevicesCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(report(err))
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// report logs the outcome of a command and returns the process exit code.
func report(err error) int {
	code := flash.ExitCode(err)
	switch {
	case err == nil:
	case code == flash.ExitSoftWarning:
		slog.Warn(err.Error())
	case errors.Is(err, context.Canceled):
		slog.Error("Interrupted")
	default:
		slog.Error(err.Error())
	}
	return code
}
