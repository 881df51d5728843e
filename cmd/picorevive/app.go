package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gousb"

	"github.com/picorevive/picorevive/internal/config"
	"github.com/picorevive/picorevive/pkg/app"
	"github.com/picorevive/picorevive/pkg/assets"
	"github.com/picorevive/picorevive/pkg/fetch"
	"github.com/picorevive/picorevive/pkg/flash"
	"github.com/picorevive/picorevive/pkg/poller"
	"github.com/picorevive/picorevive/pkg/state"
)

var logOut *os.File

// verbose reports whether debug logging is on. An explicit --verbose wins
// over the environment.
func verbose(flagSet bool) bool {
	if flagSet {
		return verboseLog
	}
	return config.Bool(config.KeyVerbose, verboseLog)
}

func setupLogging(verboseSet bool) error {
	config.Ensure()
	level := slog.LevelInfo
	if verbose(verboseSet) {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	path := logFile
	if path == "" {
		path = config.String(config.KeyLogFile, "")
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logOut = f
		w = io.MultiWriter(os.Stderr, f)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	if p := config.LoadedPath(); p != "" {
		slog.Debug("Loaded settings", "path", p)
	}
	return nil
}

func closeLogging() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

func dataDir() string {
	if assetDir != "" {
		return assetDir
	}
	return config.String(config.KeyAssetDir, assets.DataDir())
}

func bundleURL() string {
	if fetchURL != "" {
		return fetchURL
	}
	return config.String(config.KeyBundleURL, fetch.DefaultURL)
}

func interval() (time.Duration, error) {
	if pollInterval == "" {
		return config.Duration(config.KeyPollInterval, poller.DefaultInterval), nil
	}
	d, err := time.ParseDuration(pollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid poll interval %q", pollInterval)
	}
	return d, nil
}

func stateFile() (string, error) {
	if statePath != "" {
		return statePath, nil
	}
	if p := config.String(config.KeyStateFile, ""); p != "" {
		return p, nil
	}
	return state.DefaultPath()
}

// slogSink reports sequencer progress through the command line logger.
var slogSink = flash.SinkFunc(func(ev flash.Event) {
	switch {
	case ev.State == flash.StateFailed:
		slog.Error(ev.Message, "op", ev.Op, "err", ev.Err)
	case ev.Err != nil:
		slog.Warn(ev.Message, "op", ev.Op, "warning", ev.Err)
	default:
		slog.Info(ev.Message, "op", ev.Op, "state", ev.State)
	}
})

func newApp() (*app.App, error) {
	iv, err := interval()
	if err != nil {
		return nil, err
	}
	sp, err := stateFile()
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Config{
		AssetDirs:    assets.DefaultDirs(dataDir()),
		StatePath:    sp,
		PollInterval: iv,
		Sink:         slogSink,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}
