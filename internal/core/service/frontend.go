package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/core/port"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
	"go.uber.org/zap"
)

// DefaultFrontEndService runs the bridge use cases on a driver session and
// publishes what was discovered or applied.
type DefaultFrontEndService struct {
	session   port.DeviceSession
	publisher port.EventPublisher
	logger    *zap.Logger

	mu         sync.Mutex
	commanders map[string]*sc2470.Commander
}

func NewFrontEndService(session port.DeviceSession, publisher port.EventPublisher, logger *zap.Logger) *DefaultFrontEndService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultFrontEndService{
		session:    session,
		publisher:  publisher,
		logger:     logger.With(zap.String("component", "frontend")),
		commanders: map[string]*sc2470.Commander{},
	}
}

// Devices returns the known devices, running a discovery pass first when
// refresh is set or nothing is known yet.
func (s *DefaultFrontEndService) Devices(ctx context.Context, refresh bool) ([]fesd.Device, error) {
	if !refresh {
		if known := s.session.KnownDevices(); len(known) > 0 {
			return known, nil
		}
	}
	devices, err := s.session.Devices(ctx)
	if err != nil {
		s.logger.Error("frontend@discovery: failed", zap.Error(err))
		return nil, err
	}
	s.logger.Info("frontend@discovery: done", zap.Int("devices", len(devices)))

	// commanders are bound to the device record of the previous pass
	s.mu.Lock()
	s.commanders = map[string]*sc2470.Commander{}
	s.mu.Unlock()

	s.publish(domain.InventoryUpdateEvent{Devices: devices})
	return devices, nil
}

func (s *DefaultFrontEndService) commander(serial string) (*sc2470.Commander, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.commanders[serial]; ok {
		return c, nil
	}
	c, err := s.session.SC2470Commander(serial)
	if err != nil {
		return nil, err
	}
	s.commanders[serial] = c
	return c, nil
}

func (s *DefaultFrontEndService) Frequencies(ctx context.Context, serial string, path sc2470.Path) (sc2470.FrequencySet, error) {
	c, err := s.commander(serial)
	if err != nil {
		return sc2470.FrequencySet{}, err
	}
	return c.GetFrequencies(ctx, path)
}

// ConfigureFrequencies applies set. A set with equal RF and IF and no LO
// selects the mixer bypass.
func (s *DefaultFrontEndService) ConfigureFrequencies(ctx context.Context, serial string, path sc2470.Path, set sc2470.FrequencySet) (sc2470.FrequencySet, error) {
	c, err := s.commander(serial)
	if err != nil {
		return sc2470.FrequencySet{}, err
	}
	var applied sc2470.FrequencySet
	if set.Bypass() {
		applied, err = c.ConfigureBypassFrequency(ctx, path, sc2470.BypassFrequency(set.RfHz))
	} else {
		applied, err = c.ConfigureFrequencySet(ctx, path, set)
	}
	if err != nil {
		return sc2470.FrequencySet{}, err
	}
	s.logger.Debug("frontend@frequencies: applied", zap.String("serial", serial),
		zap.Stringer("path", path), zap.Any("frequencies", applied))
	s.publish(domain.FrequenciesAppliedEvent{Serial: serial, Path: path, Frequencies: applied})
	return applied, nil
}

func (s *DefaultFrontEndService) Gain(ctx context.Context, serial string, path sc2470.Path) (float64, error) {
	c, err := s.commander(serial)
	if err != nil {
		return 0, err
	}
	return c.GetGain(ctx, path)
}

func (s *DefaultFrontEndService) GainLimits(ctx context.Context, serial string, path sc2470.Path) (sc2470.GainLimits, error) {
	c, err := s.commander(serial)
	if err != nil {
		return sc2470.GainLimits{}, err
	}
	return c.GetGainLimits(ctx, path)
}

// ConfigureGain fetches the gain limits of path once so requests outside
// them are refused without touching the port.
func (s *DefaultFrontEndService) ConfigureGain(ctx context.Context, serial string, path sc2470.Path, gainDb float64) (float64, error) {
	c, err := s.commander(serial)
	if err != nil {
		return 0, err
	}
	if _, ok := c.CachedGainLimits(path); !ok {
		if _, err := c.GetGainLimits(ctx, path); err != nil {
			return 0, err
		}
	}
	applied, err := c.ConfigureGain(ctx, path, gainDb)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("frontend@gain: applied", zap.String("serial", serial),
		zap.Stringer("path", path), zap.Float64("gain_db", applied))
	s.publish(domain.GainAppliedEvent{Serial: serial, Path: path, GainDb: applied})
	return applied, nil
}

func (s *DefaultFrontEndService) Execute(ctx context.Context, cmd domain.FrontEndCommand) error {
	switch c := cmd.(type) {
	case domain.SetGainCommand:
		_, err := s.ConfigureGain(ctx, c.Serial, c.Path, c.GainDb)
		return err
	case domain.SetFrequenciesCommand:
		_, err := s.ConfigureFrequencies(ctx, c.Serial, c.Path, c.Frequencies)
		return err
	}
	return &fesd.CommandError{Kind: fesd.ErrInvalidArgument, Err: fmt.Errorf("unsupported command %T", cmd)}
}

func (s *DefaultFrontEndService) publish(event domain.FrontEndEvent) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// ensure interface compliance
var _ port.FrontEndService = (*DefaultFrontEndService)(nil)
