package serialport

import (
	"fmt"

	"github.com/berfenger/fesd/pkg/fesd/transport"
	"go.bug.st/serial"
)

type bugstOpener struct {
	cfg Config
}

func (o bugstOpener) Open(name string) (transport.Port, error) {
	mode := &serial.Mode{
		BaudRate: o.cfg.Baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(o.cfg.PollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &bugstPort{name: name, port: p}, nil
}

type bugstPort struct {
	name string
	port serial.Port
}

func (p *bugstPort) Name() string {
	return p.name
}

func (p *bugstPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *bugstPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *bugstPort) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}

func (p *bugstPort) Close() error {
	return p.port.Close()
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
