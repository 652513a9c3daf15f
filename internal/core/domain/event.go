package domain

import (
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
)

// FrontEndEvent is published on the event stream whenever the bridge
// learns something new about the attached front ends.
type FrontEndEvent interface {
	EventName() string
}

type InventoryUpdateEvent struct {
	Devices []fesd.Device
}

type FrequenciesAppliedEvent struct {
	Serial      string
	Path        sc2470.Path
	Frequencies sc2470.FrequencySet
}

type GainAppliedEvent struct {
	Serial string
	Path   sc2470.Path
	GainDb float64
}

type BridgeStateUpdateEvent struct {
	Online bool
}

func (InventoryUpdateEvent) EventName() string    { return "inventory" }
func (FrequenciesAppliedEvent) EventName() string { return "frequencies" }
func (GainAppliedEvent) EventName() string        { return "gain" }
func (BridgeStateUpdateEvent) EventName() string  { return "bridge_state" }

// FrontEndCommand is a configuration change addressed to one path of one
// device.
type FrontEndCommand interface {
	Target() (serial string, path sc2470.Path)
}

type SetGainCommand struct {
	Serial string
	Path   sc2470.Path
	GainDb float64
}

// SetFrequenciesCommand applies a plan given by two of its values; the
// zero value is derived by the device.
type SetFrequenciesCommand struct {
	Serial      string
	Path        sc2470.Path
	Frequencies sc2470.FrequencySet
}

func (c SetGainCommand) Target() (string, sc2470.Path)        { return c.Serial, c.Path }
func (c SetFrequenciesCommand) Target() (string, sc2470.Path) { return c.Serial, c.Path }
