// Package volume enumerates mounted removable volumes and their labels.
//
// Enumeration is a pure query: every call reflects the current state of the
// operating system and nothing is cached between calls. Failing to read a
// label is not an error, the volume is reported without one.
package volume

import (
	"errors"
	"fmt"
	"sort"
)

// Volume is a mounted filesystem as seen by one probe call.
type Volume struct {
	// Path is the mount root, e.g. "E:\" or "/media/pi/RPI-RP2".
	Path string
	// Label is the volume label, empty when it could not be read.
	Label string
}

// HasLabel reports whether the label could be read.
func (v Volume) HasLabel() bool {
	return v.Label != ""
}

func (v Volume) String() string {
	if !v.HasLabel() {
		return v.Path
	}
	return fmt.Sprintf("%s (%s)", v.Path, v.Label)
}

// Prober lists the currently mounted removable volumes.
type Prober interface {
	ListVolumes() []Volume
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func() []Volume

func (f ProberFunc) ListVolumes() []Volume {
	return f()
}

// ErrPlatformUnsupported is returned by System on platforms where volumes
// cannot be enumerated. The returned Prober still works and lists nothing.
var ErrPlatformUnsupported = errors.New("removable volume enumeration is not supported on this platform")

// System returns the prober for the running platform.
func System() (Prober, error) {
	p, ok := systemProber()
	if !ok {
		return p, ErrPlatformUnsupported
	}
	return p, nil
}

// Find returns the first volume with the given path.
func Find(vols []Volume, path string) (Volume, bool) {
	for _, v := range vols {
		if samePath(v.Path, path) {
			return v, true
		}
	}
	return Volume{}, false
}

func sortVolumes(vols []Volume) []Volume {
	sort.Slice(vols, func(i, j int) bool {
		return vols[i].Path < vols[j].Path
	})
	return vols
}

type unsupported struct{}

func (unsupported) ListVolumes() []Volume {
	return nil
}
