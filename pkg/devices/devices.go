package devices

import (
	"github.com/picorevive/picorevive/pkg/volume"
)

// Mode is the logical state a board is in, derived from its volume label.
type Mode string

const (
	Unrecognized Mode = ""
	Bootloader   Mode = "bootloader"
	Runtime      Mode = "runtime"
)

// Volume labels exposed by the boot ROM and by CircuitPython.
const (
	BootloaderLabel = "RPI-RP2"
	RuntimeLabel    = "CIRCUITPY"
)

func (m Mode) String() string {
	switch m {
	case Bootloader:
		return "Bootloader"
	case Runtime:
		return "Runtime"
	}
	return "Unrecognized"
}

// Label returns the volume label a board in this mode exposes.
func (m Mode) Label() string {
	switch m {
	case Bootloader:
		return BootloaderLabel
	case Runtime:
		return RuntimeLabel
	}
	return ""
}

// Classify maps a volume label to a Mode. Only exact matches count, so
// "rpi-rp2" or "RPI-RP2 " are Unrecognized.
func Classify(label string) Mode {
	switch label {
	case BootloaderLabel:
		return Bootloader
	case RuntimeLabel:
		return Runtime
	}
	return Unrecognized
}

// ClassifyVolume is Classify applied to a volume's label.
func ClassifyVolume(v volume.Volume) Mode {
	return Classify(v.Label)
}

// Selection is a chosen drive together with its mode at the time of the
// probe that produced it.
type Selection struct {
	Volume volume.Volume
	Mode   Mode
	// Auto is set when the selection came from AutoSelect rather than from
	// the operator.
	Auto bool
}

// AutoSelect picks a drive without operator input: the Bootloader volume if
// there is exactly one, otherwise the Runtime volume if there is exactly one
// and no Bootloader volume at all. Anything else needs the operator.
func AutoSelect(vols []volume.Volume) (Selection, bool) {
	boot := WithMode(vols, Bootloader)
	if len(boot) == 1 {
		return Selection{Volume: boot[0], Mode: Bootloader, Auto: true}, true
	}
	if len(boot) > 0 {
		return Selection{}, false
	}
	rt := WithMode(vols, Runtime)
	if len(rt) == 1 {
		return Selection{Volume: rt[0], Mode: Runtime, Auto: true}, true
	}
	return Selection{}, false
}

// WithMode filters volumes by mode, preserving order.
func WithMode(vols []volume.Volume, m Mode) []volume.Volume {
	var res []volume.Volume
	for _, v := range vols {
		if ClassifyVolume(v) == m {
			res = append(res, v)
		}
	}
	return res
}
