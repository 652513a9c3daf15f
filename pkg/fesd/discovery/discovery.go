// Package discovery finds the devices attached to a set of ports.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/commander"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"github.com/primetalk/goio/io"
	"go.uber.org/zap"
)

// grace is how long a port pass may overrun its window before it is
// abandoned.
const grace = time.Second

type Config struct {
	// Window bounds the pass over one port.
	Window time.Duration `mapstructure:"window"`
	// MaxSlot is the highest slot id probed on each port.
	MaxSlot uint16 `mapstructure:"max_slot"`
}

func DefaultConfig() Config {
	return Config{
		Window:  30 * time.Second,
		MaxSlot: 1,
	}
}

// Prober sends requests on a port without a registered device.
type Prober interface {
	Ports() []string
	Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error)
}

// Result is the outcome of one pass. Devices are ordered by port, then by
// slot. Failed holds the ports that produced no answer at all; Soft holds
// replies that were dropped. Truncated lists the ports whose window ran out
// before every slot was probed; what they yielded so far is kept.
type Result struct {
	Devices   []fesd.Device
	Failed    map[string]error
	Soft      []error
	Truncated []string
}

type portResult struct {
	devices   []fesd.Device
	soft      []error
	truncated bool
}

// portScan is the progress of one port pass, readable while the pass runs.
type portScan struct {
	mu       sync.Mutex
	answered bool
	res      portResult
}

func (s *portScan) controllerAnswered() {
	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()
}

func (s *portScan) add(dev fesd.Device, soft error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if soft != nil {
		s.res.soft = append(s.res.soft, soft)
		return
	}
	s.res.devices = append(s.res.devices, dev)
}

func (s *portScan) result() portResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return portResult{devices: s.res.devices, soft: s.res.soft}
}

// partial returns what was gathered so far, provided the bus controller
// answered at all.
func (s *portScan) partial() (portResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.answered {
		return portResult{}, false
	}
	return portResult{
		devices:   append([]fesd.Device(nil), s.res.devices...),
		soft:      append([]error(nil), s.res.soft...),
		truncated: true,
	}, true
}

// Run probes every port in parallel. It fails with ErrDiscovery only when
// every port failed; finding no device is a success.
func Run(ctx context.Context, prober Prober, cfg Config, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	ports := prober.Ports()
	results := make([]io.GoResult[portResult], len(ports))

	var wg sync.WaitGroup
	for i, port := range ports {
		wg.Add(1)
		go func(i int, port string) {
			defer wg.Done()
			results[i] = passWithTimeout(ctx, prober, port, cfg, logger.With(zap.String("port", port)))
		}(i, port)
	}
	wg.Wait()

	res := Result{Failed: map[string]error{}}
	for i, port := range ports {
		r := results[i]
		if r.Error != nil {
			logger.Warn("discovery: port failed", zap.String("port", port), zap.Error(r.Error))
			res.Failed[port] = r.Error
			continue
		}
		res.Devices = append(res.Devices, r.Value.devices...)
		res.Soft = append(res.Soft, r.Value.soft...)
		if r.Value.truncated {
			res.Truncated = append(res.Truncated, port)
		}
	}

	if len(ports) > 0 && len(res.Failed) == len(ports) {
		errs := make([]error, 0, len(ports))
		for _, port := range ports {
			errs = append(errs, fmt.Errorf("%s: %w", port, res.Failed[port]))
		}
		return res, &fesd.CommandError{Kind: fesd.ErrDiscovery, Err: errors.Join(errs...)}
	}
	logger.Info("discovery: done",
		zap.Int("devices", len(res.Devices)),
		zap.Int("failed_ports", len(res.Failed)),
		zap.Int("truncated_ports", len(res.Truncated)),
		zap.Int("soft_errors", len(res.Soft)))
	return res, nil
}

// passWithTimeout scans port within the discovery window. When the window
// runs out mid-scan the devices found so far still count, unless the bus
// controller never answered.
func passWithTimeout(ctx context.Context, prober Prober, port string, cfg Config, logger *zap.Logger) io.GoResult[portResult] {
	windowCtx, cancel := context.WithTimeout(ctx, cfg.Window)
	defer cancel()
	scan := &portScan{}
	pass := io.Eval(func() (portResult, error) {
		if err := scanPort(windowCtx, prober, port, cfg.MaxSlot, scan, logger); err != nil {
			return portResult{}, err
		}
		return scan.result(), nil
	})
	r := io.RunSync(io.WithTimeout[portResult](cfg.Window + grace)(pass))
	if r.Error == nil || ctx.Err() != nil || !errors.Is(windowCtx.Err(), context.DeadlineExceeded) {
		return r
	}
	res, ok := scan.partial()
	if !ok {
		return r
	}
	logger.Warn("discovery: window elapsed, keeping devices found so far",
		zap.Duration("window", cfg.Window),
		zap.Int("devices", len(res.devices)),
		zap.NamedError("cause", r.Error))
	return io.GoResult[portResult]{Value: res}
}

func scanPort(ctx context.Context, prober Prober, port string, maxSlot uint16, scan *portScan, logger *zap.Logger) error {
	resp, err := prober.Probe(ctx, port, wire.Unaddressed("VER", true))
	if err != nil {
		return err
	}
	scan.controllerAnswered()
	if len(resp.Payload) > 0 {
		logger.Debug("discovery: bus controller", zap.String("version", resp.Payload[0]))
	}

	for slot := uint16(0); slot <= maxSlot; slot++ {
		dev, err := probeSlot(ctx, prober, port, slot)
		switch {
		case err != nil && ctx.Err() != nil:
			// the exchange may have ended as a plain timeout; the window decides
			return ctx.Err()
		case errors.Is(err, fesd.ErrCommandTimeout):
			logger.Debug("discovery: empty slot", zap.Uint16("slot", slot))
		case errors.Is(err, fesd.ErrPortUnavailable),
			errors.Is(err, fesd.ErrSessionClosed),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			// a device answered but the reply was unusable
			logger.Warn("discovery: dropped reply", zap.Uint16("slot", slot), zap.Error(err))
			scan.add(fesd.Device{}, err)
		default:
			logger.Info("discovery: found device", zap.Stringer("device", dev))
			scan.add(dev, nil)
		}
		if slot == maxSlot {
			break
		}
	}
	return nil
}

// probeSlot identifies the device on slot. A reply that does not parse is
// reported as ErrProtocol.
func probeSlot(ctx context.Context, prober Prober, port string, slot uint16) (fesd.Device, error) {
	idReq := wire.Query("*IDN", slot)
	resp, err := prober.Probe(ctx, port, idReq)
	if err != nil {
		return fesd.Device{}, err
	}
	id, err := commander.ParseIdentity(resp.Payload)
	if err != nil {
		return fesd.Device{}, softError(port, slot, idReq, err)
	}

	mfgReq := wire.Query("MAINT:GETMANUF", slot)
	resp, err = prober.Probe(ctx, port, mfgReq)
	if err != nil {
		return fesd.Device{}, err
	}
	mfg, err := commander.ParseManufacturing(resp.Payload)
	if err != nil {
		return fesd.Device{}, softError(port, slot, mfgReq, err)
	}

	return fesd.Device{
		SerialNumber:      mfg.SerialNumber,
		SerialNumberValue: mfg.SerialNumberValue,
		SlotID:            slot,
		Type:              id.Type,
		Port:              port,
		FirmwareVersion:   id.FirmwareVersion,
		HardwareVersion:   mfg.HardwareVersion,
	}, nil
}

func softError(port string, slot uint16, req wire.Request, err error) error {
	return &fesd.CommandError{
		Kind:    fesd.ErrProtocol,
		Port:    port,
		Command: req.Command(),
		Values:  fmt.Sprintf("slot=%d", slot),
		Err:     err,
	}
}
