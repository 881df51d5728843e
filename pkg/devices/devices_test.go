package devices

import (
	"testing"

	"github.com/picorevive/picorevive/pkg/volume"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		label string
		want  Mode
	}{
		{"RPI-RP2", Bootloader},
		{"CIRCUITPY", Runtime},
		{"", Unrecognized},
		{"rpi-rp2", Unrecognized},
		{"RPI-RP2 ", Unrecognized},
		{" RPI-RP2", Unrecognized},
		{"RPI-RP", Unrecognized},
		{"RPI-RP22", Unrecognized},
		{"RPI_RP2", Unrecognized},
		{"circuitpy", Unrecognized},
		{"CIRCUITPY\x00", Unrecognized},
		{"CircuitPy", Unrecognized},
		{"USB DRIVE", Unrecognized},
	} {
		if got := Classify(tc.label); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.label, got, tc.want)
		}
	}
}

func TestAutoSelect(t *testing.T) {
	boot := volume.Volume{Path: "E:", Label: BootloaderLabel}
	boot2 := volume.Volume{Path: "F:", Label: BootloaderLabel}
	rt := volume.Volume{Path: "G:", Label: RuntimeLabel}
	rt2 := volume.Volume{Path: "H:", Label: RuntimeLabel}
	other := volume.Volume{Path: "I:", Label: "STICK"}
	bare := volume.Volume{Path: "J:"}

	for _, tc := range []struct {
		name string
		vols []volume.Volume
		want string
		mode Mode
	}{
		{"single bootloader", []volume.Volume{other, boot}, "E:", Bootloader},
		{"bootloader beats runtimes", []volume.Volume{rt, boot, rt2}, "E:", Bootloader},
		{"single runtime", []volume.Volume{bare, rt}, "G:", Runtime},
		{"two bootloaders", []volume.Volume{boot, boot2}, "", Unrecognized},
		{"two bootloaders and a runtime", []volume.Volume{boot, boot2, rt}, "", Unrecognized},
		{"two runtimes", []volume.Volume{rt, rt2}, "", Unrecognized},
		{"nothing recognised", []volume.Volume{other, bare}, "", Unrecognized},
		{"empty", nil, "", Unrecognized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sel, ok := AutoSelect(tc.vols)
			if tc.want == "" {
				if ok {
					t.Fatalf("expected no selection, got %+v", sel)
				}
				return
			}
			if !ok {
				t.Fatalf("expected selection of %s", tc.want)
			}
			if sel.Volume.Path != tc.want || sel.Mode != tc.mode || !sel.Auto {
				t.Errorf("got %+v, want %s in %s", sel, tc.want, tc.mode)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	d, ok := Lookup(0x2e8a, 0x0003)
	if !ok || d.Mode != Bootloader {
		t.Fatalf("boot ROM not recognised: %+v", d)
	}
	if _, ok := Lookup(0x05ac, 0x1225); ok {
		t.Errorf("unrelated device recognised")
	}
	devs := []USBDevice{{Description: d}}
	if !Attached(devs, Bootloader) || Attached(devs, Runtime) {
		t.Errorf("Attached gave wrong answer for %v", devs)
	}
}
