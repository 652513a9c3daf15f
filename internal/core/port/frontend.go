package port

import (
	"context"

	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
)

// DeviceSession is the part of a driver session the bridge relies on.
type DeviceSession interface {
	Ports() []string
	Devices(ctx context.Context) ([]fesd.Device, error)
	KnownDevices() []fesd.Device
	SC2470Commander(serial string) (*sc2470.Commander, error)
}

type EventPublisher interface {
	Publish(event domain.FrontEndEvent)
}

// FrontEndService is what the transports of the bridge (HTTP, MQTT) call.
type FrontEndService interface {
	Devices(ctx context.Context, refresh bool) ([]fesd.Device, error)
	Frequencies(ctx context.Context, serial string, path sc2470.Path) (sc2470.FrequencySet, error)
	ConfigureFrequencies(ctx context.Context, serial string, path sc2470.Path, set sc2470.FrequencySet) (sc2470.FrequencySet, error)
	Gain(ctx context.Context, serial string, path sc2470.Path) (float64, error)
	ConfigureGain(ctx context.Context, serial string, path sc2470.Path, gainDb float64) (float64, error)
	GainLimits(ctx context.Context, serial string, path sc2470.Path) (sc2470.GainLimits, error)
	Execute(ctx context.Context, cmd domain.FrontEndCommand) error
}
