package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/volume"
)

type fakeProbe struct {
	mu    sync.Mutex
	vols  []volume.Volume
	calls int
}

func (f *fakeProbe) set(vs ...volume.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vols = vs
}

func (f *fakeProbe) ListVolumes() []volume.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]volume.Volume(nil), f.vols...)
}

var (
	bootE = volume.Volume{Path: "E:", Label: devices.BootloaderLabel}
	bootF = volume.Volume{Path: "F:", Label: devices.BootloaderLabel}
	rtG   = volume.Volume{Path: "G:", Label: devices.RuntimeLabel}
	usbH  = volume.Volume{Path: "H:", Label: "BACKUP"}
)

func TestAutoSelection(t *testing.T) {
	for _, tc := range []struct {
		name string
		vols []volume.Volume
		want string
	}{
		{"bootloader wins over runtime", []volume.Volume{rtG, bootE, usbH}, "E:"},
		{"single runtime", []volume.Volume{rtG, usbH}, "G:"},
		{"two bootloaders", []volume.Volume{bootE, bootF}, ""},
		{"nothing", nil, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			probe := &fakeProbe{}
			probe.set(tc.vols...)
			ev, ok := New(probe, 0, nil).Poll()
			if !ok {
				t.Fatalf("tick skipped")
			}
			got := ""
			if ev.Selection != nil {
				got = ev.Selection.Volume.Path
				if !ev.Selection.Auto {
					t.Errorf("selection not marked as automatic")
				}
			}
			if got != tc.want {
				t.Errorf("selected %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	probe := &fakeProbe{}
	p := New(probe, 0, nil)

	steps := []struct {
		vols       []volume.Volume
		transition bool
		flashable  bool
	}{
		{nil, false, false},
		{[]volume.Volume{rtG}, true, false},
		{[]volume.Volume{rtG}, false, false},
		{[]volume.Volume{bootE}, true, true},
		{[]volume.Volume{bootE}, false, true},
		{nil, true, false},
	}
	for i, s := range steps {
		probe.set(s.vols...)
		ev, _ := p.Poll()
		if ev.Transition != s.transition {
			t.Errorf("step %d: transition = %v, want %v", i, ev.Transition, s.transition)
		}
		if ev.Flashable != s.flashable {
			t.Errorf("step %d: flashable = %v, want %v", i, ev.Flashable, s.flashable)
		}
	}
}

func TestBusyGatesFlashable(t *testing.T) {
	probe := &fakeProbe{}
	probe.set(bootE)
	var busy atomic.Bool
	p := New(probe, 0, busy.Load)

	busy.Store(true)
	if ev, _ := p.Poll(); ev.Flashable {
		t.Errorf("flashable while an operation is running")
	}
	busy.Store(false)
	if ev, _ := p.Poll(); !ev.Flashable {
		t.Errorf("not flashable once the operation finished")
	}
}

func TestOperatorSelection(t *testing.T) {
	probe := &fakeProbe{}
	probe.set(bootE, bootF)
	p := New(probe, 0, nil)

	if _, err := p.Select("Z:"); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("Select(Z:) = %v, want ErrNotMounted", err)
	}
	sel, err := p.Select("F:")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Mode != devices.Bootloader || sel.Auto {
		t.Errorf("selection = %+v", sel)
	}

	ev, _ := p.Poll()
	if ev.Selection == nil || ev.Selection.Volume.Path != "F:" {
		t.Fatalf("operator choice not kept: %+v", ev.Selection)
	}

	p.Refresh()
	ev, _ = p.Poll()
	if ev.Selection != nil {
		t.Errorf("refresh should drop the choice with two bootloaders, got %+v", ev.Selection)
	}

	if _, err := p.Select("F:"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	probe.set(bootE)
	ev, _ = p.Poll()
	if ev.Selection == nil || ev.Selection.Volume.Path != "E:" || !ev.Selection.Auto {
		t.Errorf("vanished choice should fall back to auto-selection, got %+v", ev.Selection)
	}
}

type blockingProbe struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingProbe) ListVolumes() []volume.Volume {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return nil
}

func TestTickSkippedWhileInFlight(t *testing.T) {
	probe := &blockingProbe{entered: make(chan struct{}), release: make(chan struct{})}
	p := New(probe, 0, nil)

	done := make(chan bool)
	go func() {
		_, ok := p.Poll()
		done <- ok
	}()
	<-probe.entered

	if _, ok := p.Poll(); ok {
		t.Errorf("second tick ran while the first was in flight")
	}
	if n := probe.calls.Load(); n != 1 {
		t.Errorf("probe called %d times, want 1", n)
	}
	close(probe.release)
	if !<-done {
		t.Errorf("first tick reported as skipped")
	}
	if _, ok := p.Poll(); !ok {
		t.Errorf("tick skipped after the previous one finished")
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	probe := &fakeProbe{}
	p := New(probe, 0, nil)
	ch, cancel := p.Subscribe(1)
	defer cancel()

	probe.set(rtG)
	p.Poll()
	probe.set(bootE)
	p.Poll()

	ev := <-ch
	if ev.Mode() != devices.Bootloader {
		t.Errorf("subscriber got %s, want the newest event", ev.Mode())
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}

func TestStartStop(t *testing.T) {
	probe := &fakeProbe{}
	probe.set(bootE)
	p := New(probe, 10*time.Millisecond, nil)
	ch, cancel := p.Subscribe(4)
	defer cancel()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start = %v, want ErrRunning", err)
	}
	select {
	case ev := <-ch:
		if !ev.Flashable {
			t.Errorf("first event not flashable: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event published")
	}
	p.Stop()

	probe.mu.Lock()
	calls := probe.calls
	probe.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	probe.mu.Lock()
	after := probe.calls
	probe.mu.Unlock()
	if after != calls {
		t.Errorf("probe called %d times after Stop", after-calls)
	}
	if _, ok := p.Latest(); !ok {
		t.Errorf("no latest event recorded")
	}
}

func TestCurrentMatchesPoll(t *testing.T) {
	probe := &fakeProbe{}
	probe.set(bootE, bootF)
	p := New(probe, 0, nil)
	ch, cancel := p.Subscribe(1)
	defer cancel()

	if _, ok := p.Current(); ok {
		t.Errorf("two bootloaders should leave nothing selected")
	}
	if _, err := p.Select("F:"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	sel, ok := p.Current()
	if !ok || sel.Volume.Path != "F:" || sel.Auto {
		t.Fatalf("Current = %+v, %v", sel, ok)
	}
	select {
	case ev := <-ch:
		t.Errorf("Current published %+v", ev)
	default:
	}
	if ev, _ := p.Poll(); ev.Selection == nil || *ev.Selection != sel {
		t.Errorf("Poll selected %+v, Current %+v", ev.Selection, sel)
	}
}
