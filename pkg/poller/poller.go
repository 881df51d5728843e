// Package poller periodically probes removable volumes and publishes the
// current drive selection to subscribers.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/picorevive/picorevive/pkg/devices"
	"github.com/picorevive/picorevive/pkg/volume"
)

const DefaultInterval = time.Second

// Event is published after every completed tick.
type Event struct {
	Time    time.Time
	Volumes []volume.Volume
	// Selection is nil when no drive is selected and the auto-selection
	// rule does not apply.
	Selection *devices.Selection
	// Transition is set when the selected mode differs from the previous
	// tick. Before the first tick the mode is Unrecognized.
	Transition bool
	// Flashable is the gate for destructive operations: a Bootloader drive
	// is selected and no operation is running.
	Flashable bool
}

// Mode returns the mode of the selection, Unrecognized when there is none.
func (e Event) Mode() devices.Mode {
	if e.Selection == nil {
		return devices.Unrecognized
	}
	return e.Selection.Mode
}

var (
	ErrRunning    = errors.New("poller already running")
	ErrNotMounted = errors.New("drive is not mounted")
)

type Poller struct {
	probe    volume.Prober
	interval time.Duration
	busy     func() bool

	inflight atomic.Bool

	mu       sync.Mutex
	subs     map[int]chan Event
	nextSub  int
	chosen   string
	lastMode devices.Mode
	latest   *Event
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a poller. A zero interval means DefaultInterval. busy may be
// nil; when set, Flashable is false while it returns true.
func New(probe volume.Prober, interval time.Duration, busy func() bool) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		probe:    probe,
		interval: interval,
		busy:     busy,
		subs:     make(map[int]chan Event),
		kick:     make(chan struct{}, 1),
	}
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Subscribe returns a channel receiving published events and a function to
// cancel the subscription. A slow subscriber only ever misses stale events:
// when its buffer is full the oldest event is dropped for the newest.
func (p *Poller) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the last published event.
func (p *Poller) Latest() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Event{}, false
	}
	return *p.latest, true
}

// Select records the operator's choice of drive. It is kept across ticks
// until the drive disappears or Refresh is called.
func (p *Poller) Select(path string) (devices.Selection, error) {
	v, ok := volume.Find(p.probe.ListVolumes(), path)
	if !ok {
		return devices.Selection{}, fmt.Errorf("%s: %w", path, ErrNotMounted)
	}
	p.mu.Lock()
	p.chosen = v.Path
	p.mu.Unlock()
	p.trigger()
	return devices.Selection{Volume: v, Mode: devices.ClassifyVolume(v)}, nil
}

// Refresh drops the operator's choice and re-applies auto-selection on the
// next tick, which is started immediately when the poller is running.
func (p *Poller) Refresh() {
	p.mu.Lock()
	p.chosen = ""
	p.mu.Unlock()
	p.trigger()
}

func (p *Poller) trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Poll runs one tick synchronously. It returns false without probing when
// another tick is still in flight.
func (p *Poller) Poll() (Event, bool) {
	if !p.inflight.CompareAndSwap(false, true) {
		glog.V(2).Infof("poller: tick skipped, previous one still running")
		return Event{}, false
	}
	defer p.inflight.Store(false)

	vols := p.probe.ListVolumes()
	busy := p.busy != nil && p.busy()

	p.mu.Lock()
	defer p.mu.Unlock()

	ev := Event{Time: time.Now(), Volumes: vols, Selection: p.selectLocked(vols)}
	mode := ev.Mode()
	ev.Transition = mode != p.lastMode
	if ev.Transition {
		glog.Infof("poller: mode %s -> %s", p.lastMode, mode)
	}
	p.lastMode = mode
	ev.Flashable = mode == devices.Bootloader && !busy
	p.latest = &ev

	for _, ch := range p.subs {
		publish(ch, ev)
	}
	return ev, true
}

// Current probes once and returns the selection a tick would publish, without
// publishing it.
func (p *Poller) Current() (devices.Selection, bool) {
	vols := p.probe.ListVolumes()
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.selectLocked(vols)
	if sel == nil {
		return devices.Selection{}, false
	}
	return *sel, true
}

// selectLocked keeps the operator's drive while it is mounted and falls back
// to auto-selection otherwise. p.mu must be held.
func (p *Poller) selectLocked(vols []volume.Volume) *devices.Selection {
	if p.chosen != "" {
		if v, ok := volume.Find(vols, p.chosen); ok {
			return &devices.Selection{Volume: v, Mode: devices.ClassifyVolume(v)}
		}
		glog.Infof("poller: selected drive %s is gone", p.chosen)
		p.chosen = ""
	}
	if sel, ok := devices.AutoSelect(vols); ok {
		return &sel
	}
	return nil
}

func publish(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Start runs ticks in the background until ctx is done or Stop is called.
// The first tick runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		p.Poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			case <-p.kick:
			}
			p.Poll()
		}
	}()
	return nil
}

// Stop ends the background loop and waits for a running tick to finish, so
// no probe is left running once it returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
