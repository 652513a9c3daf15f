// Package session is the entry point of the driver: it opens the ports,
// discovers the devices behind them and hands out commanders.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/commander"
	"github.com/berfenger/fesd/pkg/fesd/discovery"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
	"github.com/berfenger/fesd/pkg/fesd/serialport"
	"github.com/berfenger/fesd/pkg/fesd/transport"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"go.uber.org/zap"
)

type Config struct {
	// Opener opens ports by name. Defaults to the serial port driver.
	Opener      transport.Opener
	Logger      *zap.Logger
	ActorSystem *actor.ActorSystem
	Codec       wire.Codec
	Exchange    transport.ExchangeConfig
	Discovery   discovery.Config
	Instruments []transport.Instrument
}

// Session owns one Transport per configured port and the registry of the
// devices found on them.
type Session struct {
	cfg      Config
	logger   *zap.Logger
	ports    []string
	mux      *transport.Multiplexer
	registry *fesd.Registry

	// set when Open created the actor system, which Close then shuts down
	ownsSystem bool

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error

	// one discovery pass at a time
	discoveryMu sync.Mutex
}

// Open opens every port of portList, in order. If one port cannot be
// opened the ones already open are closed again.
func Open(ctx context.Context, portList string, cfg Config) (*Session, error) {
	ports, err := fesd.ParsePortList(portList)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Opener == nil {
		opener, err := serialport.NewOpener(serialport.DefaultConfig())
		if err != nil {
			return nil, err
		}
		cfg.Opener = opener
	}
	ownsSystem := cfg.ActorSystem == nil
	if ownsSystem {
		cfg.ActorSystem = actor.NewActorSystem()
	}
	logger := cfg.Logger.With(zap.String("component", "session"))

	opts := transport.Options{
		Codec:       cfg.Codec,
		Exchange:    cfg.Exchange,
		Logger:      cfg.Logger,
		Instruments: cfg.Instruments,
	}
	transports := make([]*transport.Transport, 0, len(ports))
	for _, port := range ports {
		t, err := transport.Open(cfg.ActorSystem, cfg.Opener, port, opts)
		if err != nil {
			logger.Error("session@open: port unavailable", zap.String("port", port), zap.Error(err))
			for _, opened := range transports {
				_ = opened.Close()
			}
			if ownsSystem {
				cfg.ActorSystem.Shutdown()
			}
			return nil, err
		}
		logger.Debug("session@open: port open", zap.String("port", port))
		transports = append(transports, t)
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		ports:      ports,
		registry:   fesd.NewRegistry(),
		ownsSystem: ownsSystem,
	}
	s.mux = transport.NewMultiplexer(s.registry, transports...)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ActorSystem is the system the port actors run on.
func (s *Session) ActorSystem() *actor.ActorSystem {
	return s.cfg.ActorSystem
}

// Ports returns the port identifiers in configuration order.
func (s *Session) Ports() []string {
	return append([]string(nil), s.ports...)
}

// Devices runs a discovery pass, replaces the registry with its result and
// returns the devices found. Devices from an earlier pass that are gone
// can no longer be commanded.
func (s *Session) Devices(ctx context.Context) ([]fesd.Device, error) {
	if s.closed.Load() {
		return nil, s.closedError("")
	}
	s.discoveryMu.Lock()
	defer s.discoveryMu.Unlock()

	ctx, stop := s.scope(ctx)
	defer stop()
	res, err := discovery.Run(ctx, sessionProber{s}, s.cfg.Discovery, s.cfg.Logger)
	if err != nil {
		return nil, err
	}
	s.registry.Replace(res.Devices)
	return s.registry.Devices(), nil
}

// KnownDevices returns the registry of the latest discovery pass without
// touching any port.
func (s *Session) KnownDevices() []fesd.Device {
	return s.registry.Devices()
}

func (s *Session) lookup(serial string) (fesd.Device, error) {
	if s.closed.Load() {
		return fesd.Device{}, s.closedError(serial)
	}
	dev, ok := s.registry.Lookup(serial)
	if !ok {
		return fesd.Device{}, &fesd.CommandError{Kind: fesd.ErrDeviceNotFound, Serial: serial}
	}
	return dev, nil
}

// Commander returns the commander matching the family of the device.
// Devices of unknown families get the base capabilities only.
func (s *Session) Commander(serial string) (fesd.Commander, error) {
	dev, err := s.lookup(serial)
	if err != nil {
		return nil, err
	}
	switch dev.Type {
	case fesd.DeviceTypeSC2470:
		return sc2470.New(sessionExchanger{s}, dev, -1)
	default:
		return commander.NewBase(sessionExchanger{s}, dev, -1), nil
	}
}

func (s *Session) SC2470Commander(serial string) (*sc2470.Commander, error) {
	dev, err := s.lookup(serial)
	if err != nil {
		return nil, err
	}
	return sc2470.New(sessionExchanger{s}, dev, -1)
}

// SC2470CommanderForSlot binds to the first registered device on slot.
func (s *Session) SC2470CommanderForSlot(slot uint16) (*sc2470.Commander, error) {
	if s.closed.Load() {
		return nil, s.closedError("")
	}
	dev, ok := s.registry.LookupSlot(slot)
	if !ok {
		return nil, &fesd.CommandError{Kind: fesd.ErrDeviceNotFound, Values: fmt.Sprintf("slot=%d", slot)}
	}
	return sc2470.New(sessionExchanger{s}, dev, -1)
}

// SC2470Commanders returns a commander for every registered SC2470, in
// registry order.
func (s *Session) SC2470Commanders() ([]*sc2470.Commander, error) {
	if s.closed.Load() {
		return nil, s.closedError("")
	}
	var out []*sc2470.Commander
	for _, dev := range s.registry.Devices() {
		if dev.Type != fesd.DeviceTypeSC2470 {
			continue
		}
		c, err := sc2470.New(sessionExchanger{s}, dev, -1)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close cancels the exchanges in flight, stops the port actors and closes
// the ports. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.closeErr = s.mux.Close()
		if s.ownsSystem {
			s.cfg.ActorSystem.Shutdown()
		}
		s.logger.Debug("session@close: closed", zap.Error(s.closeErr))
	})
	return s.closeErr
}

func (s *Session) closedError(serial string) error {
	return &fesd.CommandError{Kind: fesd.ErrSessionClosed, Serial: serial}
}

// scope derives a context that also ends when the session closes.
func (s *Session) scope(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}

// sessionExchanger ties commander traffic to the session lifetime.
type sessionExchanger struct {
	s *Session
}

func (e sessionExchanger) Exchange(ctx context.Context, serial string, req wire.Request) (*wire.Response, error) {
	if e.s.closed.Load() {
		return nil, e.s.closedError(serial)
	}
	ctx, stop := e.s.scope(ctx)
	defer stop()
	return e.s.mux.Exchange(ctx, serial, req)
}

func (e sessionExchanger) Notify(ctx context.Context, serial string, req wire.Request, settle time.Duration) error {
	if e.s.closed.Load() {
		return e.s.closedError(serial)
	}
	ctx, stop := e.s.scope(ctx)
	defer stop()
	return e.s.mux.Notify(ctx, serial, req, settle)
}

type sessionProber struct {
	s *Session
}

func (p sessionProber) Ports() []string {
	return p.s.mux.Ports()
}

func (p sessionProber) Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error) {
	return p.s.mux.Probe(ctx, port, req)
}
