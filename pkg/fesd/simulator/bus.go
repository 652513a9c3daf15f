package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/fesd/pkg/fesd/transport"
	"github.com/berfenger/fesd/pkg/fesd/wire"
)

var (
	ErrPortBusy   = errors.New("port already open")
	ErrPortClosed = errors.New("port closed")
	ErrNoSuchPort = errors.New("no such port")
)

type Fault int

const (
	FaultNone Fault = iota
	// FaultDrop swallows the reply.
	FaultDrop
	// FaultCorrupt flips a byte so the checksum fails.
	FaultCorrupt
	// FaultMisaddress answers from another slot.
	FaultMisaddress
	// FaultNoise prefixes the reply with line noise. The reply stays valid.
	FaultNoise
	// FaultStale answers with the reply to a different command.
	FaultStale
	// FaultOtherPath answers a path-scoped command as if sent to the other path.
	FaultOtherPath
)

const defaultPollInterval = 20 * time.Millisecond

// Bus is one simulated multi-drop serial line with devices on it.
type Bus struct {
	name  string
	codec wire.Codec

	mu                sync.Mutex
	devices           map[uint16]*SC2470
	controllerVersion string
	controller        bool
	latency           time.Duration
	faults            []Fault
	received          []wire.Request
	open              *Port
	opens             int
}

func NewBus(name string, devices ...*SC2470) *Bus {
	b := &Bus{
		name:              name,
		codec:             wire.NewConsoleCodec(),
		devices:           make(map[uint16]*SC2470),
		controllerVersion: "1.4.2",
	}
	for _, d := range devices {
		b.devices[d.Slot()] = d
	}
	b.controller = len(devices) > 0
	return b
}

func (b *Bus) Name() string {
	return b.name
}

func (b *Bus) Attach(d *SC2470) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[d.Slot()] = d
	b.controller = true
}

// SetController sets whether a bus controller answers unaddressed
// requests. Buses built with devices have one.
func (b *Bus) SetController(present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controller = present
}

func (b *Bus) Detach(slot uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, slot)
}

func (b *Bus) Device(slot uint16) *SC2470 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[slot]
}

func (b *Bus) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// InjectFaults queues faults applied to the next replies, one per reply.
func (b *Bus) InjectFaults(faults ...Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, faults...)
}

// Received returns every request decoded on the bus so far.
func (b *Bus) Received() []wire.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wire.Request(nil), b.received...)
}

func (b *Bus) Requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

// CountCommand counts received requests with the given wire command.
func (b *Bus) CountCommand(command string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.received {
		if r.Command() == command {
			n++
		}
	}
	return n
}

func (b *Bus) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Open returns the host side of the line. Only one host may hold it.
func (b *Bus) Open() (*Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open != nil {
		return nil, fmt.Errorf("%s: %w", b.name, ErrPortBusy)
	}
	p := &Port{
		bus:    b,
		poll:   defaultPollInterval,
		notify: make(chan struct{}, 1),
	}
	b.open = p
	b.opens++
	return p, nil
}

func (b *Bus) release(p *Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == p {
		b.open = nil
	}
}

// respond decodes what the host wrote and produces the bytes the bus sends
// back, with the delay before they arrive.
func (b *Bus) respond(req wire.Request) ([]byte, time.Duration) {
	b.mu.Lock()
	b.received = append(b.received, req)
	latency := b.latency
	var fault Fault
	if len(b.faults) > 0 {
		fault = b.faults[0]
		b.faults = b.faults[1:]
	}
	var dev *SC2470
	if req.Addressed {
		dev = b.devices[req.Slot]
	}
	controller := b.controller
	version := b.controllerVersion
	b.mu.Unlock()

	var resp wire.Response
	switch {
	case !req.Addressed && req.Command() == "VER?" && controller:
		resp = wire.Response{Command: req.Command(), Payload: []string{version}, Status: wire.StatusOK}
	case dev != nil:
		r := dev.handle(req)
		if r.silent {
			return nil, 0
		}
		resp = wire.Response{Addressed: true, Slot: req.Slot, Scope: r.scope, Command: req.Command(), Payload: r.payload, Status: wire.StatusOK}
		if r.code != "" {
			resp.Status = wire.StatusErr
			resp.Code = r.code
			resp.Detail = r.detail
			resp.Payload = nil
		}
	default:
		// nobody on that address
		return nil, 0
	}

	switch fault {
	case FaultDrop:
		return nil, 0
	case FaultMisaddress:
		resp.Addressed = true
		resp.Slot = req.Slot + 1
	case FaultStale:
		resp.Command = "SYS:NCHAN?"
		resp.Payload = []string{"2"}
	case FaultOtherPath:
		resp.Scope = otherPath(resp.Scope)
	}
	frame := b.codec.EncodeResponse(resp)
	switch fault {
	case FaultCorrupt:
		frame[len(frame)/3] ^= 0x20
	case FaultNoise:
		frame = append([]byte("\x00\xff~~>"), frame...)
	}
	return frame, latency
}

// Port is the host side of a Bus. It satisfies transport.Port.
type Port struct {
	bus  *Bus
	poll time.Duration

	mu      sync.Mutex
	in      []byte
	pending []byte
	closed  bool
	epoch   int
	notify  chan struct{}
}

var _ transport.Port = (*Port)(nil)

func (p *Port) Name() string {
	return p.bus.name
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	p.in = append(p.in, b...)
	var reqs []wire.Request
	for {
		req, rest, err := p.bus.codec.DecodeRequest(p.in)
		p.in = append(p.in[:0], rest...)
		if err != nil {
			continue
		}
		if req == nil {
			break
		}
		reqs = append(reqs, *req)
	}
	epoch := p.epoch
	p.mu.Unlock()

	for _, req := range reqs {
		frame, latency := p.bus.respond(req)
		if frame == nil {
			continue
		}
		if latency <= 0 {
			p.deliver(frame, epoch)
			continue
		}
		time.AfterFunc(latency, func() { p.deliver(frame, epoch) })
	}
	return len(b), nil
}

func (p *Port) deliver(frame []byte, epoch int) {
	p.mu.Lock()
	if p.closed || epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, frame...)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Port) Read(b []byte) (int, error) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		if len(p.pending) > 0 {
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		select {
		case <-p.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

// ResetInputBuffer drops unread bytes. Replies still in flight are kept, as
// on a real line.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	p.pending = nil
	return nil
}

// Unplug makes every later operation on the port fail, like a removed
// USB adapter.
func (p *Port) Unplug() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.bus.release(p)
		return nil
	}
	p.closed = true
	p.epoch++
	p.mu.Unlock()
	p.bus.release(p)
	return nil
}

func otherPath(scope string) string {
	if scope == "RX" {
		return "TX"
	}
	return "RX"
}
