package polargraph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ListPorts returns the names of serial ports present on the system, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}

// PortDetail describes a serial port for display.
type PortDetail struct {
	Name         string
	IsUSB        bool
	VID, PID     string
	SerialNumber string
	Product      string
}

func (d PortDetail) String() string {
	if !d.IsUSB {
		return d.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
}

// DetailedPorts returns USB details for every serial port.
func DetailedPorts() ([]PortDetail, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	res := make([]PortDetail, 0, len(ports))
	for _, p := range ports {
		res = append(res, PortDetail{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// OpenTarm opens a port with github.com/tarm/serial.
func OpenTarm(name string, cfg Config) (Port, error) {
	return tarm.OpenPort(&tarm.Config{
		Name:        name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
}

// OpenBugst opens a port with go.bug.st/serial.
func OpenBugst(name string, cfg Config) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, err
	}
	err = p.SetReadTimeout(cfg.ReadTimeout)
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// ErrUnknownDriver is returned by Driver for unsupported driver names.
var ErrUnknownDriver = errors.New("unknown driver")

// Driver returns the Opener and Lister for a driver name: "tarm", "bugst" or
// "spjs". The spjs driver requires spjsURL.
func Driver(name, spjsURL string) (Opener, Lister, error) {
	switch name {
	case "", "tarm":
		return OpenTarm, ListPorts, nil
	case "bugst":
		return OpenBugst, ListPorts, nil
	case "spjs":
		if spjsURL == "" {
			return nil, nil, fmt.Errorf("%w: spjs requires a server url", ErrUnknownDriver)
		}
		return OpenSPJS(spjsURL), ListSPJS(spjsURL, 5*time.Second), nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
}
