// Package serialboot drops a board running a Python runtime back into its
// boot ROM by opening its USB CDC port at 1200 baud.
package serialboot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// TouchBaud is the line rate the RP2040 runtimes treat as a request to
// reboot into the bootloader.
const TouchBaud = 1200

var ErrNoPort = errors.New("no RP2040 serial port found")

// Port is a USB serial port that looks like it belongs to a board.
type Port struct {
	Name    string
	VID     string
	PID     string
	Product string
	Serial  string
}

func (p Port) String() string {
	s := fmt.Sprintf("%s [%s:%s]", p.Name, strings.ToLower(p.VID), strings.ToLower(p.PID))
	if p.Product != "" {
		s += " " + p.Product
	}
	return s
}

// Known vendor IDs: Raspberry Pi and Adafruit.
var vendors = []string{"2E8A", "239A"}

func knownVendor(vid string) bool {
	v := strings.ToUpper(strings.TrimSpace(vid))
	if v == "" {
		return false
	}
	for _, known := range vendors {
		// Some backends report "VID_2E8A".
		if strings.Contains(v, known) {
			return true
		}
	}
	return false
}

func candidate(p *enumerator.PortDetails) bool {
	if p == nil || !p.IsUSB {
		return false
	}
	if knownVendor(p.VID) {
		return true
	}
	product := strings.ToUpper(p.Product)
	return strings.Contains(product, "PICO") || strings.Contains(product, "CIRCUITPY")
}

func filter(details []*enumerator.PortDetails) []Port {
	var res []Port
	for _, d := range details {
		if !candidate(d) {
			continue
		}
		res = append(res, Port{
			Name:    d.Name,
			VID:     d.VID,
			PID:     d.PID,
			Product: d.Product,
			Serial:  d.SerialNumber,
		})
	}
	return res
}

// Ports lists the serial ports of attached boards.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}
	return filter(details), nil
}

// Pick returns the port named name, or the only board port when name is
// empty.
func Pick(ports []Port, name string) (Port, error) {
	if name != "" {
		for _, p := range ports {
			if p.Name == name {
				return p, nil
			}
		}
		// Allow ports the enumerator missed.
		return Port{Name: name}, nil
	}
	switch len(ports) {
	case 0:
		return Port{}, ErrNoPort
	case 1:
		return ports[0], nil
	}
	var names []string
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return Port{}, fmt.Errorf("%d serial ports found (%s), pick one", len(ports), strings.Join(names, ", "))
}

// Touch opens the port at TouchBaud with DTR dropped and closes it again.
// The board disconnects right after, so errors on close are ignored.
func Touch(name string) error {
	glog.Infof("serialboot: 1200 baud touch on %s", name)
	p, err := serial.Open(name, &serial.Mode{BaudRate: TouchBaud})
	if err != nil {
		if locked(err) {
			return fmt.Errorf("port %s is held by another application: %w", name, err)
		}
		return fmt.Errorf("opening %s: %w", name, err)
	}
	// Not every backend can drive modem lines.
	if err := p.SetDTR(false); err != nil {
		glog.V(1).Infof("serialboot: SetDTR on %s: %v", name, err)
	}
	time.Sleep(100 * time.Millisecond)
	p.Close()
	return nil
}

func locked(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortBusy {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "denied") || strings.Contains(s, "busy") || strings.Contains(s, "in use")
}
