package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/picorevive/picorevive/internal/config"
	"github.com/picorevive/picorevive/pkg/app"
	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/flash"
	"github.com/picorevive/picorevive/pkg/poller"
	"github.com/picorevive/picorevive/pkg/volume"
)

func TestReportExitCodes(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errNotConfirmed, 1},
		{fmt.Errorf("flash: %w", flash.ErrDeviceNotFound), 1},
		{flash.ErrCopyVerificationFailed, 2},
		{flash.ErrReenumerationFailed, 2},
		{flash.ErrRuntimeNotConfirmed, 3},
		{context.Canceled, 1},
	} {
		if got := report(tc.err); got != tc.want {
			t.Errorf("report(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestVerboseFromEnvironment(t *testing.T) {
	defer func(v bool) { verboseLog = v }(verboseLog)
	for _, tc := range []struct {
		env     string
		flag    bool
		flagSet bool
		want    bool
	}{
		{"", false, false, false},
		{"1", false, false, true},
		{"no", false, false, false},
		{"yes", false, true, false},
		{"", true, true, true},
	} {
		t.Setenv(config.KeyVerbose, tc.env)
		verboseLog = tc.flag
		if got := verbose(tc.flagSet); got != tc.want {
			t.Errorf("verbose(env=%q, flag=%v set=%v) = %v, want %v", tc.env, tc.flag, tc.flagSet, got, tc.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	boot := &devices.Selection{Volume: volume.Volume{Path: "E:", Label: devices.BootloaderLabel}, Mode: devices.Bootloader}
	rt := &devices.Selection{Volume: volume.Volume{Path: "G:", Label: devices.RuntimeLabel}, Mode: devices.Runtime}
	other := &devices.Selection{Volume: volume.Volume{Path: "H:", Label: "BACKUP"}}

	for _, tc := range []struct {
		sel  *devices.Selection
		want string
	}{
		{boot, "Pico detected at E:"},
		{rt, "CircuitPython device detected at G:"},
		{other, "Please select a valid drive"},
		{nil, "Please select a valid drive"},
	} {
		if got := statusLine(tc.sel); got != tc.want {
			t.Errorf("statusLine = %q, want %q", got, tc.want)
		}
	}

	busy := poller.Event{Selection: boot, Flashable: false}
	if got := eventLine(busy); !strings.Contains(got, "in progress") {
		t.Errorf("eventLine while busy = %q", got)
	}
}

type staticProbe []volume.Volume

func (p staticProbe) ListVolumes() []volume.Volume {
	return p
}

func TestShell(t *testing.T) {
	probe := staticProbe{
		{Path: "G:", Label: devices.RuntimeLabel},
		{Path: "H:", Label: "BACKUP"},
	}
	a := app.NewWithProbe(probe, app.Config{
		StatePath:    filepath.Join(t.TempDir(), "state.json"),
		PollInterval: time.Hour,
	})
	defer a.Close()

	in := strings.NewReader("list\nflash micro\nbogus\nselect Z:\nquit\n")
	var out bytes.Buffer
	if err := runShell(context.Background(), a, in, &out); err != nil {
		t.Fatalf("runShell: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"* G: (CIRCUITPY)",
		"H: (BACKUP)",
		"a board in bootloader mode must be selected",
		`Unknown command "bogus"`,
		"Error: DeviceNotFound",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if a.Sequencer.Busy() {
		t.Errorf("flash started from a runtime drive")
	}
}

// endless never runs out of lines.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = "list\n"[i%5]
	}
	return len(p), nil
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readLines(ctx, endless{}, lines)
	}()
	if l := <-lines; l != "list" {
		t.Fatalf("first line = %q", l)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("reader still blocked on a send after cancel")
	}
}
