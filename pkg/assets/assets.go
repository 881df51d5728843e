// Package assets resolves the firmware images the flasher writes to a board.
//
// An Asset is immutable once resolved. A Set holds at most one Asset per
// Kind and is replaced wholesale when the operator picks a different file,
// so a Set can be shared between goroutines without locking.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/adrg/xdg"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

type Kind string

const (
	KindNuke      Kind = "nuke"
	KindMicro     Kind = "micro"
	KindAlternate Kind = "alternate"
	KindCustom    Kind = "custom"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindNuke, KindMicro, KindAlternate, KindCustom}

// Firmware lists the kinds that can be flashed as a target image.
var Firmware = []Kind{KindMicro, KindAlternate, KindCustom}

func (k Kind) String() string {
	switch k {
	case KindNuke:
		return "flash_nuke.uf2"
	case KindMicro:
		return "MicroPython firmware"
	case KindAlternate:
		return "CircuitPython firmware"
	case KindCustom:
		return "custom firmware"
	}
	return "UNKNOWN"
}

// ParseKind accepts the names used on the command line.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	switch s {
	case "circuit":
		return KindAlternate, nil
	case "micropython":
		return KindMicro, nil
	case "circuitpython":
		return KindAlternate, nil
	}
	return "", fmt.Errorf("unknown asset kind %q, must be one of: nuke, micro, alternate, custom", s)
}

// NukeFilename is the name the nuke image is written under on the device.
const NukeFilename = "flash_nuke.uf2"

type Asset struct {
	Kind Kind
	Path string
	Size int64
}

func (a Asset) String() string {
	return fmt.Sprintf("%s: %s (%d bytes)", a.Kind, a.Path, a.Size)
}

var ErrMissing = errors.New("missing")

// Stat resolves a file on disk into an Asset.
func Stat(kind Kind, path string) (Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Asset{}, fmt.Errorf("%s: %w", kind, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Asset{}, fmt.Errorf("%s: %w", kind, err)
	}
	if !fi.Mode().IsRegular() {
		return Asset{}, fmt.Errorf("%s: %s is not a regular file", kind, abs)
	}
	return Asset{Kind: kind, Path: abs, Size: fi.Size()}, nil
}

// Set is an immutable collection of resolved assets keyed by kind.
type Set struct {
	m map[Kind]Asset
}

func NewSet(as ...Asset) Set {
	s := Set{m: make(map[Kind]Asset, len(as))}
	for _, a := range as {
		s.m[a.Kind] = a
	}
	return s
}

func (s Set) Get(k Kind) (Asset, bool) {
	a, ok := s.m[k]
	return a, ok
}

// With returns a copy of s where the asset of a's kind is replaced by a.
func (s Set) With(a Asset) Set {
	n := Set{m: make(map[Kind]Asset, len(s.m)+1)}
	for k, v := range s.m {
		n.m[k] = v
	}
	n.m[a.Kind] = a
	return n
}

// All returns the assets in Kinds order.
func (s Set) All() []Asset {
	var res []Asset
	for _, k := range Kinds {
		if a, ok := s.m[k]; ok {
			res = append(res, a)
		}
	}
	return res
}

// Require returns an error naming every kind that is unresolved or whose
// file no longer exists on disk.
func (s Set) Require(kinds ...Kind) error {
	var errs error
	for _, k := range kinds {
		a, ok := s.m[k]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", k, ErrMissing))
			continue
		}
		if _, err := os.Stat(a.Path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w (%v)", k, ErrMissing, err))
		}
	}
	return errs
}

// DataDir is where downloaded bundles are extracted by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "picorevive")
}

// Patterns maps each kind to the file names searched for it. Custom images
// are only ever chosen by the operator.
var Patterns = map[Kind][]string{
	KindNuke:      {NukeFilename},
	KindMicro:     {"RPI_PICO-*.uf2"},
	KindAlternate: {"adafruit-circuitpython-raspberry_pi_pico-*.uf2"},
}

// Resolver finds assets by searching directories in order.
type Resolver struct {
	Dirs     []string
	Patterns map[Kind][]string
}

// DefaultDirs returns the directory of the running executable followed by
// dataDir.
func DefaultDirs(dataDir string) []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return append(dirs, dataDir)
}

// Resolve returns every asset found. Within a directory the lexically
// greatest match of a pattern wins, so newer versioned names beat older
// ones; across directories the first one holding a match wins. The error
// lists kinds that were not found, the Set is valid either way.
func (r Resolver) Resolve() (Set, error) {
	patterns := r.Patterns
	if patterns == nil {
		patterns = Patterns
	}
	set := NewSet()
	for _, k := range Kinds {
		pats, ok := patterns[k]
		if !ok {
			continue
		}
	dirs:
		for _, dir := range r.Dirs {
			for _, pat := range pats {
				matches, err := filepath.Glob(filepath.Join(dir, pat))
				if err != nil || len(matches) == 0 {
					continue
				}
				sort.Strings(matches)
				for i := len(matches) - 1; i >= 0; i-- {
					a, err := Stat(k, matches[i])
					if err != nil {
						glog.Warningf("Skipping %s: %v", matches[i], err)
						continue
					}
					glog.Infof("Using %s at %s", k, a.Path)
					set.m[k] = a
					break dirs
				}
			}
		}
	}

	var errs error
	for _, k := range Kinds {
		if _, ok := patterns[k]; !ok {
			continue
		}
		if _, ok := set.m[k]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", k, ErrMissing))
		}
	}
	return set, errs
}
