package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
)

// Resolver gives the current record of a device by serial number.
type Resolver interface {
	Lookup(serial string) (fesd.Device, bool)
}

// Multiplexer routes device requests to the Transport owning the device's
// port. Exclusivity is per Transport, so devices on different ports never
// wait for each other.
type Multiplexer struct {
	resolver   Resolver
	order      []string
	transports map[string]*Transport
}

func NewMultiplexer(resolver Resolver, transports ...*Transport) *Multiplexer {
	m := &Multiplexer{
		resolver:   resolver,
		transports: make(map[string]*Transport, len(transports)),
	}
	for _, t := range transports {
		m.order = append(m.order, t.Name())
		m.transports[t.Name()] = t
	}
	return m
}

func (m *Multiplexer) Ports() []string {
	return append([]string(nil), m.order...)
}

func (m *Multiplexer) Transport(port string) (*Transport, bool) {
	t, ok := m.transports[port]
	return t, ok
}

// Exchange addresses req to the device's current slot and runs it on the
// device's port.
func (m *Multiplexer) Exchange(ctx context.Context, serial string, req wire.Request) (*wire.Response, error) {
	dev, t, err := m.route(serial, req)
	if err != nil {
		return nil, err
	}
	req.Addressed = true
	req.Slot = dev.SlotID
	resp, err := t.Exchange(ctx, req)
	return resp, fesd.WithContext(err, fesd.ErrProtocol, fesd.CommandError{Serial: serial, Port: dev.Port})
}

// Notify sends a reply-less request to a device, see Transport.Notify.
func (m *Multiplexer) Notify(ctx context.Context, serial string, req wire.Request, settle time.Duration) error {
	dev, t, err := m.route(serial, req)
	if err != nil {
		return err
	}
	req.Addressed = true
	req.Slot = dev.SlotID
	err = t.Notify(ctx, req, settle)
	return fesd.WithContext(err, fesd.ErrProtocol, fesd.CommandError{Serial: serial, Port: dev.Port})
}

// Probe runs req on a port directly, without a registered device.
func (m *Multiplexer) Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error) {
	t, ok := m.transports[port]
	if !ok {
		return nil, &fesd.CommandError{Kind: fesd.ErrPortUnavailable, Port: port, Command: req.Command(), Err: errors.New("no transport for port")}
	}
	return t.Exchange(ctx, req)
}

func (m *Multiplexer) route(serial string, req wire.Request) (fesd.Device, *Transport, error) {
	dev, ok := m.resolver.Lookup(serial)
	if !ok {
		return fesd.Device{}, nil, &fesd.CommandError{Kind: fesd.ErrDeviceNotFound, Serial: serial, Command: req.Command()}
	}
	t, ok := m.transports[dev.Port]
	if !ok {
		return fesd.Device{}, nil, &fesd.CommandError{
			Kind:    fesd.ErrDeviceNotFound,
			Serial:  serial,
			Port:    dev.Port,
			Command: req.Command(),
			Err:     fmt.Errorf("no transport for port %s", dev.Port),
		}
	}
	return dev, t, nil
}

// Close stops every Transport in order and returns the joined errors.
func (m *Multiplexer) Close() error {
	var errs []error
	for _, port := range m.order {
		if err := m.transports[port].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", port, err))
		}
	}
	return errors.Join(errs...)
}
