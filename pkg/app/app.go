// Package app holds one flashing session: the volume probe, the resolved
// firmware images, the drive poller and the sequencer. The poller owns the
// drive selection; the operator's choice is only written through SelectDrive
// and the images only replaced through SelectAsset or ReloadAssets.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/picorevive/picorevive/pkg/assets"
	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/flash"
	"github.com/picorevive/picorevive/pkg/poller"
	"github.com/picorevive/picorevive/pkg/serialboot"
	"github.com/picorevive/picorevive/pkg/state"
	"github.com/picorevive/picorevive/pkg/volume"
)

// BootloaderTimeout bounds the wait for a board to show up in bootloader
// mode after a serial touch.
const BootloaderTimeout = 15 * time.Second

type Config struct {
	// AssetDirs are searched in order for firmware images.
	AssetDirs []string
	// StatePath is where operator choices are persisted. Empty disables
	// persistence.
	StatePath    string
	PollInterval time.Duration
	// Sink receives sequencer events. Nil keeps the glog default.
	Sink flash.Sink
}

type App struct {
	Probe volume.Prober
	// ProbeErr is volume.ErrPlatformUnsupported when drives cannot be
	// enumerated on this platform.
	ProbeErr  error
	Poller    *poller.Poller
	Sequencer *flash.Sequencer
	State     *state.Store
	// WaitInterval is the probe cadence of WaitMode.
	WaitInterval time.Duration

	resolver assets.Resolver

	mu      sync.RWMutex
	assets  assets.Set
	missing error
}

// New sets up a session on the system volume prober.
func New(cfg Config) (*App, error) {
	probe, err := volume.System()
	a := NewWithProbe(probe, cfg)
	a.ProbeErr = err
	if err != nil {
		glog.Warningf("%v", err)
	}
	if err := a.load(); err != nil {
		return a, err
	}
	return a, nil
}

// NewWithProbe sets up a session on probe without loading assets or state.
// Call ReloadAssets before flashing.
func NewWithProbe(probe volume.Prober, cfg Config) *App {
	seq := flash.New(probe)
	if cfg.Sink != nil {
		seq.Sink = cfg.Sink
	}
	a := &App{
		Probe:        probe,
		Sequencer:    seq,
		Poller:       poller.New(probe, cfg.PollInterval, seq.Busy),
		WaitInterval: time.Second,
		resolver:     assets.Resolver{Dirs: cfg.AssetDirs},
	}
	if cfg.StatePath != "" {
		a.State = &state.Store{Path: cfg.StatePath}
	}
	return a
}

func (a *App) load() error {
	if err := a.ReloadAssets(); err != nil {
		return err
	}
	if a.State == nil {
		return nil
	}
	st, err := a.State.Load()
	if err != nil {
		return err
	}
	if st.Drive == "" || a.ProbeErr != nil {
		return nil
	}
	if _, err := a.Poller.Select(st.Drive); err != nil {
		glog.Infof("Saved drive %s is not mounted, using auto-selection", st.Drive)
		return a.State.SetDrive("")
	}
	return nil
}

// Close stops the poller if it was started.
func (a *App) Close() {
	a.Poller.Stop()
}

// ReloadAssets searches the asset directories again and applies the files
// the operator picked earlier. Missing images are not an error here; see
// Missing.
func (a *App) ReloadAssets() error {
	set, _ := a.resolver.Resolve()
	if a.State != nil {
		st, err := a.State.Load()
		if err != nil {
			return err
		}
		for k, p := range st.Assets {
			as, err := assets.Stat(k, p)
			if err != nil {
				glog.Warningf("Ignoring selected %s: %v", k, err)
				continue
			}
			set = set.With(as)
		}
	}
	a.mu.Lock()
	a.assets = set
	a.missing = set.Require(assets.KindNuke, assets.KindMicro, assets.KindAlternate)
	a.mu.Unlock()
	return nil
}

// Assets returns the current snapshot of resolved images.
func (a *App) Assets() assets.Set {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.assets
}

// Missing lists the bundled images that could not be found, or nil.
func (a *App) Missing() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.missing
}

// SelectAsset replaces the image of kind with the file at path.
func (a *App) SelectAsset(kind assets.Kind, path string) (assets.Asset, error) {
	as, err := assets.Stat(kind, path)
	if err != nil {
		return as, flash.NewError(flash.KindMissingAsset, err, fmt.Sprintf("cannot use %s", path))
	}
	a.mu.Lock()
	a.assets = a.assets.With(as)
	a.missing = a.assets.Require(assets.KindNuke, assets.KindMicro, assets.KindAlternate)
	a.mu.Unlock()
	if a.State != nil {
		if err := a.State.SetAsset(kind, as.Path); err != nil {
			return as, err
		}
	}
	glog.Infof("Selected %s", as)
	return as, nil
}

// SelectDrive makes path the operator's drive. It must be mounted.
func (a *App) SelectDrive(path string) (devices.Selection, error) {
	if err := a.supported(); err != nil {
		return devices.Selection{}, err
	}
	sel, err := a.Poller.Select(path)
	if err != nil {
		return sel, flash.NewError(flash.KindDeviceNotFound, err, fmt.Sprintf("cannot select %s", path))
	}
	if a.State != nil {
		if err := a.State.SetDrive(sel.Volume.Path); err != nil {
			return sel, err
		}
	}
	return sel, nil
}

// Drive returns the operator's drive if it is still mounted. A drive that
// went away is forgotten.
func (a *App) Drive() string {
	if sel, ok := a.Poller.Current(); ok && !sel.Auto {
		return sel.Volume.Path
	}
	a.forgetDrive()
	return ""
}

// Current returns the selection the next operation would use, as the poller
// sees it.
func (a *App) Current() (devices.Selection, bool) {
	sel, ok := a.Poller.Current()
	if ok && sel.Auto {
		a.forgetDrive()
	}
	return sel, ok
}

// forgetDrive clears a persisted drive the poller no longer holds.
func (a *App) forgetDrive() {
	if a.State == nil {
		return
	}
	st, err := a.State.Load()
	if err != nil || st.Drive == "" {
		return
	}
	glog.Infof("Selected drive %s is no longer selected, forgetting it", st.Drive)
	if err := a.State.SetDrive(""); err != nil {
		glog.Warningf("Clearing selected drive: %v", err)
	}
}

func (a *App) supported() error {
	if a.ProbeErr != nil {
		return flash.NewError(flash.KindPlatformUnsupported, a.ProbeErr, "removable drives cannot be listed")
	}
	return nil
}

func (a *App) start(ctx context.Context, op flash.Operation, drive string) (*flash.Task, error) {
	if err := a.supported(); err != nil {
		return nil, err
	}
	if drive == "" {
		drive = a.Drive()
	}
	t, err := a.Sequencer.Start(ctx, flash.Request{
		Op:     op,
		Drive:  drive,
		Assets: a.Assets(),
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-t.Done()
		// The board re-enumerates during an operation, so the choice made
		// before it does not carry over.
		a.Poller.Refresh()
		a.forgetDrive()
	}()
	return t, nil
}

// Reset nukes the board on drive, or on the selected drive when empty.
func (a *App) Reset(ctx context.Context, drive string) (*flash.Task, error) {
	return a.start(ctx, flash.Reset(), drive)
}

// Flash writes the image of kind to the board on drive, or on the selected
// drive when empty.
func (a *App) Flash(ctx context.Context, kind assets.Kind, drive string) (*flash.Task, error) {
	return a.start(ctx, flash.Flash(kind), drive)
}

// WaitMode probes until a volume in mode m shows up or ctx is done.
func (a *App) WaitMode(ctx context.Context, m devices.Mode) (volume.Volume, error) {
	for {
		if vols := devices.WithMode(a.Probe.ListVolumes(), m); len(vols) > 0 {
			return vols[0], nil
		}
		select {
		case <-ctx.Done():
			return volume.Volume{}, ctx.Err()
		case <-time.After(a.WaitInterval):
		}
	}
}

// EnterBootloader asks a board running a Python runtime to reboot into its
// boot ROM over serial and waits for the bootloader drive.
func (a *App) EnterBootloader(ctx context.Context, port string) (volume.Volume, error) {
	if err := a.supported(); err != nil {
		return volume.Volume{}, err
	}
	if a.Sequencer.Busy() {
		return volume.Volume{}, flash.NewError(flash.KindConcurrentOperation, nil, "an operation is in progress")
	}
	ports, err := serialboot.Ports()
	if err != nil && port == "" {
		return volume.Volume{}, err
	}
	p, err := serialboot.Pick(ports, port)
	if err != nil {
		return volume.Volume{}, flash.NewError(flash.KindDeviceNotFound, err, "no board to reset")
	}
	if err := serialboot.Touch(p.Name); err != nil {
		return volume.Volume{}, flash.NewError(flash.KindDeviceNotFound, err, "serial reset failed")
	}
	ctx, cancel := context.WithTimeout(ctx, BootloaderTimeout)
	defer cancel()
	v, err := a.WaitMode(ctx, devices.Bootloader)
	if err != nil {
		return v, flash.NewError(flash.KindModeNotConfirmed, err, fmt.Sprintf("%s drive did not appear", devices.BootloaderLabel))
	}
	a.Poller.Refresh()
	return v, nil
}
