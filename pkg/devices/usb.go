package devices

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"
)

// Description identifies a board by its USB vendor/product ID in a given
// mode. The boot ROM and the runtimes enumerate with different IDs, which
// lets us tell an attached-but-unmounted board apart from no board at all.
type Description struct {
	VID, PID gousb.ID
	Mode     Mode
	Name     string
}

var Descriptions = []Description{
	{VID: 0x2e8a, PID: 0x0003, Mode: Bootloader, Name: "RP2040 boot ROM"},
	{VID: 0x2e8a, PID: 0x000f, Mode: Bootloader, Name: "RP2350 boot ROM"},
	{VID: 0x2e8a, PID: 0x0005, Mode: Runtime, Name: "MicroPython"},
	{VID: 0x239a, PID: 0x80f4, Mode: Runtime, Name: "CircuitPython (Pico)"},
	{VID: 0x239a, PID: 0x8120, Mode: Runtime, Name: "CircuitPython (Pico W)"},
}

// Lookup returns the description matching a vendor/product pair.
func Lookup(vid, pid gousb.ID) (Description, bool) {
	for _, d := range Descriptions {
		if d.VID == vid && d.PID == pid {
			return d, true
		}
	}
	return Description{}, false
}

// USBDevice is one attached board found on the bus.
type USBDevice struct {
	Description
	Bus, Address int
	Serial       string
}

func (d USBDevice) String() string {
	s := fmt.Sprintf("bus %03d addr %03d %s:%s %s (%s)", d.Bus, d.Address, d.VID, d.PID, d.Name, d.Mode)
	if d.Serial != "" {
		s += " serial " + d.Serial
	}
	return s
}

// ScanUSB lists attached boards matching Descriptions. Devices that match
// but cannot be opened are still reported, without a serial number; the open
// errors are returned alongside.
func ScanUSB(ctx *gousb.Context) ([]USBDevice, error) {
	var found []USBDevice
	var errs error
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		d, ok := Lookup(desc.Vendor, desc.Product)
		if !ok {
			return false
		}
		found = append(found, USBDevice{Description: d, Bus: desc.Bus, Address: desc.Address})
		return true
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, dev := range devs {
		serial, err := dev.SerialNumber()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("bus %d addr %d: %w", dev.Desc.Bus, dev.Desc.Address, err))
		}
		for i := range found {
			if found[i].Bus == dev.Desc.Bus && found[i].Address == dev.Desc.Address {
				found[i].Serial = serial
			}
		}
		dev.Close()
	}
	return found, errs
}

// Attached reports whether any scanned device is in the given mode.
func Attached(devs []USBDevice, m Mode) bool {
	for _, d := range devs {
		if d.Mode == m {
			return true
		}
	}
	return false
}
