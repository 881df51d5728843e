// Package flash writes firmware images to a board in bootloader mode.
//
// Every operation first copies the nuke image, which erases the flash and
// reboots the board back into its boot ROM, waits for the board to come
// back, and only then copies the target image. The nuke is never skipped,
// even when the board was already in bootloader mode: a fresh boot ROM
// volume is the only write target known to be clean.
//
// Only one operation runs per Sequencer at a time. Settle waits cannot be
// interrupted since the board reboots regardless once an image is written.
package flash

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/picorevive/picorevive/pkg/assets"
	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/volume"
)

// Hardware settle times observed after writing an image. They are not
// taken per call; Sequencer copies them so tests can shorten them.
const (
	NukeSettle     = 10 * time.Second
	FirmwareSettle = 5 * time.Second
)

type State int

const (
	StateValidating State = iota
	StateAwaitingNuke
	StateNuking
	StateAwaitingReenumeration
	StateWritingTarget
	StateAwaitingFinalReenumeration
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateAwaitingNuke:
		return "awaiting-nuke"
	case StateNuking:
		return "nuking"
	case StateAwaitingReenumeration:
		return "awaiting-reenumeration"
	case StateWritingTarget:
		return "writing-target"
	case StateAwaitingFinalReenumeration:
		return "awaiting-final-reenumeration"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type OpKind int

const (
	OpReset OpKind = iota
	OpFlash
)

// Operation is a unit of work requested by the operator.
type Operation struct {
	Kind OpKind
	// Firmware is the image written by OpFlash.
	Firmware assets.Kind
}

func Reset() Operation {
	return Operation{Kind: OpReset}
}

func Flash(k assets.Kind) Operation {
	return Operation{Kind: OpFlash, Firmware: k}
}

func (o Operation) String() string {
	if o.Kind == OpReset {
		return "reset"
	}
	return fmt.Sprintf("flash %s", o.Firmware)
}

type Request struct {
	Op Operation
	// Drive is the path the operator selected. When empty the single
	// volume in the required mode is used.
	Drive string
	// Mode is the mode a reset targets. Only devices.Bootloader is
	// supported; the zero value means Bootloader.
	Mode devices.Mode
	// Assets is the snapshot of resolved images to use.
	Assets assets.Set
}

type Result struct {
	Op Operation
	// Volume is the volume the last image was written to.
	Volume volume.Volume
	// Warning is set when the operation succeeded but the board could not
	// be seen coming back in the expected mode.
	Warning *Error
}

// Err returns the warning as an error, or nil.
func (r Result) Err() error {
	if r.Warning == nil {
		return nil
	}
	return r.Warning
}

type Sequencer struct {
	Probe volume.Prober
	FS    FS
	Sink  Sink

	NukeSettle     time.Duration
	FirmwareSettle time.Duration
	// Sleep waits out a settle interval.
	Sleep func(time.Duration)

	busy    atomic.Bool
	mu      sync.Mutex
	current *Task
}

func New(probe volume.Prober) *Sequencer {
	return &Sequencer{
		Probe:          probe,
		FS:             OS,
		Sink:           GlogSink{},
		NukeSettle:     NukeSettle,
		FirmwareSettle: FirmwareSettle,
		Sleep:          time.Sleep,
	}
}

// Busy reports whether an operation is in flight.
func (s *Sequencer) Busy() bool {
	return s.busy.Load()
}

// Current returns the in-flight task, if any.
func (s *Sequencer) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start validates nothing up front except that no other operation is in
// flight, then runs req in the background. A second request while one is
// running is rejected with ErrConcurrentOperation and does not touch the
// running one.
//
// Failures are reported as *Error. The one exception is cancellation: when
// ctx is done before a copy starts, the task fails with an error wrapping
// ctx.Err(), so errors.Is(err, context.Canceled) holds and ExitCode maps it
// to ExitValidation.
func (s *Sequencer) Start(ctx context.Context, req Request) (*Task, error) {
	if !s.busy.CompareAndSwap(false, true) {
		detail := "another operation is in progress"
		if cur := s.Current(); cur != nil {
			detail = fmt.Sprintf("%s is in progress (%s)", cur.Op(), cur.State())
		}
		return nil, newError(KindConcurrentOperation, nil, "%s", detail)
	}
	t := newTask(req.Op)
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	go func() {
		res, err := s.execute(ctx, req, t)
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		s.busy.Store(false)
		t.finish(res, err)
	}()
	return t, nil
}

// Run performs req and blocks until it has finished.
func (s *Sequencer) Run(ctx context.Context, req Request) (Result, error) {
	t, err := s.Start(ctx, req)
	if err != nil {
		return Result{Op: req.Op}, err
	}
	<-t.Done()
	return t.Result()
}

type run struct {
	s    *Sequencer
	task *Task
	op   Operation
}

func (r *run) enter(st State, format string, args ...any) {
	r.task.setState(st)
	r.s.emit(Event{Op: r.op, State: st, Message: fmt.Sprintf(format, args...)})
}

func (r *run) fail(err error) (Result, error) {
	r.task.setState(StateFailed)
	r.s.emit(Event{Op: r.op, State: StateFailed, Message: "operation failed", Err: err})
	return Result{Op: r.op}, err
}

func (r *run) done(res Result, format string, args ...any) (Result, error) {
	r.task.setState(StateDone)
	ev := Event{Op: r.op, State: StateDone, Message: fmt.Sprintf(format, args...)}
	if res.Warning != nil {
		ev.Err = res.Warning
	}
	r.s.emit(ev)
	return res, nil
}

func (s *Sequencer) emit(ev Event) {
	if s.Sink == nil {
		return
	}
	ev.Time = time.Now()
	s.Sink.Emit(ev)
}

func (s *Sequencer) execute(ctx context.Context, req Request, t *Task) (Result, error) {
	r := &run{s: s, task: t, op: req.Op}
	switch req.Op.Kind {
	case OpReset:
		return s.reset(ctx, r, req)
	case OpFlash:
		return s.flash(ctx, r, req)
	}
	return r.fail(newError(KindDeviceNotFound, nil, "unknown operation %d", req.Op.Kind))
}

func (s *Sequencer) reset(ctx context.Context, r *run, req Request) (Result, error) {
	r.enter(StateValidating, "looking for a %s volume", devices.Bootloader)
	mode := req.Mode
	if mode == devices.Unrecognized {
		mode = devices.Bootloader
	}
	if mode != devices.Bootloader {
		return r.fail(newError(KindDeviceNotFound, nil, "reset to %s mode is not supported, only %s", mode, devices.Bootloader))
	}
	vol, err := s.locate(mode, req.Drive)
	if err != nil {
		return r.fail(err)
	}
	nuke, err := s.requireAsset(req.Assets, assets.KindNuke)
	if err != nil {
		return r.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("reset cancelled: %w", err))
	}

	dest := destPath(vol.Path, assets.NukeFilename)
	r.enter(StateAwaitingNuke, "checking %s is writable", vol)
	if err := s.probeWritable(dest); err != nil {
		return r.fail(err)
	}

	r.enter(StateNuking, "copying %s to %s", nuke.Path, dest)
	if err := s.copyVerified(nuke.Path, dest); err != nil {
		return r.fail(err)
	}

	r.enter(StateAwaitingReenumeration, "nuke image written, waiting %s for the device to reconnect", s.NukeSettle)
	s.Sleep(s.NukeSettle)
	res := Result{Op: r.op, Volume: vol}
	if again, ok := s.relocate(mode, vol.Path); ok {
		res.Volume = again
		return r.done(res, "reset completed, %s drive detected at %s", mode.Label(), again.Path)
	}
	res.Warning = newError(KindModeNotConfirmed, nil, "%s drive not detected after reset, check the connection", mode.Label())
	return r.done(res, "reset finished without seeing the device come back")
}

func (s *Sequencer) flash(ctx context.Context, r *run, req Request) (Result, error) {
	kind := req.Op.Firmware
	r.enter(StateValidating, "looking for a %s volume", devices.Bootloader)
	if !isFirmware(kind) {
		return r.fail(newError(KindMissingAsset, nil, "%q is not a flashable firmware kind", kind))
	}
	vol, err := s.locate(devices.Bootloader, req.Drive)
	if err != nil {
		return r.fail(err)
	}
	nuke, err := s.requireAsset(req.Assets, assets.KindNuke)
	if err != nil {
		return r.fail(err)
	}
	target, err := s.requireAsset(req.Assets, kind)
	if err != nil {
		return r.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("flash cancelled: %w", err))
	}

	dest := destPath(vol.Path, assets.NukeFilename)
	r.enter(StateAwaitingNuke, "erasing %s before writing %s", vol, kind)
	r.enter(StateNuking, "copying %s to %s", nuke.Path, dest)
	if err := s.copyVerified(nuke.Path, dest); err != nil {
		return r.fail(err)
	}

	r.enter(StateAwaitingReenumeration, "nuke image written, waiting %s for the device to reset", s.NukeSettle)
	s.Sleep(s.NukeSettle)
	vol, ok := s.relocate(devices.Bootloader, vol.Path)
	if !ok {
		return r.fail(newError(KindReenumerationFailed, nil, "after nuke the device did not reappear as %s, cannot write firmware", devices.BootloaderLabel))
	}
	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("flash cancelled after nuke: %w", err))
	}

	dest = destPath(vol.Path, filepath.Base(target.Path))
	r.enter(StateWritingTarget, "copying %s to %s", target.Path, dest)
	if err := s.copyVerified(target.Path, dest); err != nil {
		return r.fail(err)
	}

	r.enter(StateAwaitingFinalReenumeration, "%s written, waiting %s for the device to reconnect", kind, s.FirmwareSettle)
	s.Sleep(s.FirmwareSettle)
	res := Result{Op: r.op, Volume: vol}
	if kind != assets.KindAlternate {
		return r.done(res, "%s flashed successfully", kind)
	}
	if rt := devices.WithMode(s.Probe.ListVolumes(), devices.Runtime); len(rt) > 0 {
		return r.done(res, "%s flashed successfully, %s drive at %s", kind, devices.RuntimeLabel, rt[0].Path)
	}
	res.Warning = newError(KindRuntimeNotConfirmed, nil, "%s drive not detected, check the connection", devices.RuntimeLabel)
	return r.done(res, "%s written but the runtime drive did not appear", kind)
}

func isFirmware(k assets.Kind) bool {
	for _, f := range assets.Firmware {
		if f == k {
			return true
		}
	}
	return false
}

// locate probes synchronously for the volume an operation should use.
func (s *Sequencer) locate(m devices.Mode, drive string) (volume.Volume, error) {
	vols := s.Probe.ListVolumes()
	if drive != "" {
		v, ok := volume.Find(vols, drive)
		if !ok {
			return volume.Volume{}, newError(KindDeviceNotFound, nil, "drive %s is not mounted", drive)
		}
		if got := devices.ClassifyVolume(v); got != m {
			return volume.Volume{}, newError(KindDeviceNotFound, nil, "drive %s is in %s mode, need %s (%s)", v, got, m, m.Label())
		}
		return v, nil
	}
	cands := devices.WithMode(vols, m)
	switch len(cands) {
	case 0:
		return volume.Volume{}, newError(KindDeviceNotFound, nil, "no %s drive found", m.Label())
	case 1:
		return cands[0], nil
	}
	return volume.Volume{}, newError(KindDeviceNotFound, nil, "%d %s drives found, select one", len(cands), m.Label())
}

// relocate looks for the board after a reboot, preferring the path it had
// before and otherwise accepting a single volume in the mode anywhere.
func (s *Sequencer) relocate(m devices.Mode, prev string) (volume.Volume, bool) {
	vols := s.Probe.ListVolumes()
	if v, ok := volume.Find(vols, prev); ok && devices.ClassifyVolume(v) == m {
		return v, true
	}
	if cands := devices.WithMode(vols, m); len(cands) == 1 {
		return cands[0], true
	}
	return volume.Volume{}, false
}

func (s *Sequencer) requireAsset(set assets.Set, k assets.Kind) (assets.Asset, error) {
	a, ok := set.Get(k)
	if !ok {
		return a, newError(KindMissingAsset, nil, "%s is not resolved", k)
	}
	fi, err := s.FS.Stat(a.Path)
	if err != nil {
		return a, newError(KindMissingAsset, err, "%s at %s", k, a.Path)
	}
	if !fi.Mode().IsRegular() {
		return a, newError(KindMissingAsset, nil, "%s at %s is not a regular file", k, a.Path)
	}
	return a, nil
}

// destPath joins a file name onto a volume root, keeping bare drive letters
// like "E:" absolute.
func destPath(root, name string) string {
	if strings.HasSuffix(root, ":") {
		root += string(filepath.Separator)
	}
	return filepath.Join(root, name)
}
