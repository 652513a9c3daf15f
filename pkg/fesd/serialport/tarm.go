package serialport

import (
	"errors"
	"fmt"
	"io"

	"github.com/berfenger/fesd/pkg/fesd/transport"
	"github.com/tarm/serial"
)

type tarmOpener struct {
	cfg Config
}

func (o tarmOpener) Open(name string) (transport.Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        o.cfg.Baud,
		ReadTimeout: o.cfg.PollInterval,
		Size:        8,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &tarmPort{name: name, port: p}, nil
}

type tarmPort struct {
	name string
	port *serial.Port
}

func (p *tarmPort) Name() string {
	return p.name
}

// Read reports an expired read timeout as (0, nil), like the other driver.
func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *tarmPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *tarmPort) ResetInputBuffer() error {
	return p.port.Flush()
}

func (p *tarmPort) Close() error {
	return p.port.Close()
}
