// internal/mks/port.go
package mks

import (
	"errors"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/tamzrod/pump-monitor/internal/fault"
)

// Port is the serial handle the client needs.
// A Read that hits the read timeout returns (0, nil).
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// PortConfig describes one open of a serial line. Framing is always 8N1.
type PortConfig struct {
	Name        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Opener opens a serial port. OpenSerial is the production opener.
type Opener func(cfg PortConfig) (Port, error)

// OpenSerial opens a real serial port with go.bug.st/serial.
// A port held by another process yields a fault.Busy error.
func OpenSerial(cfg PortConfig) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, classifyOpen(err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fault.Wrap(fault.IO, "mks open", err)
	}
	return p, nil
}

func classifyOpen(err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortBusy:
			return fault.Wrap(fault.Busy, "mks open", err)
		case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
			return fault.Wrap(fault.Invalid, "mks open", err)
		}
	}
	return fault.Wrap(fault.Connect, "mks open", err)
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fault.Wrap(fault.IO, "mks list ports", err)
	}
	return ports, nil
}
