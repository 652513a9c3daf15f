package simulator

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"gopkg.in/yaml.v2"
)

// Profile describes simulated buses and the devices on them.
//
//	buses:
//	  - name: COM6
//	    latency_ms: 5
//	    devices:
//	      - slot: 1
//	        serial: 1A2B3C4D
//	        gain_limits:
//	          RX: [-10, 20]
type Profile struct {
	Buses []BusProfile `yaml:"buses"`
}

type BusProfile struct {
	Name       string          `yaml:"name"`
	LatencyMs  int             `yaml:"latency_ms"`
	Controller bool            `yaml:"controller"`
	Devices    []DeviceProfile `yaml:"devices"`
}

type DeviceProfile struct {
	Slot       uint16               `yaml:"slot"`
	Serial     string               `yaml:"serial"`
	Model      string               `yaml:"model"`
	Firmware   string               `yaml:"firmware"`
	Hardware   string               `yaml:"hardware"`
	Peripheral bool                 `yaml:"peripheral"`
	LOStepHz   float64              `yaml:"lo_step_hz"`
	GainLimits map[string][]float64 `yaml:"gain_limits"`
}

func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulator profile: %w", err)
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing simulator profile: %w", err)
	}
	if len(p.Buses) == 0 {
		return nil, fmt.Errorf("simulator profile has no buses")
	}
	return &p, nil
}

// Network builds the buses and devices the profile describes.
func (p *Profile) Network() (*Network, error) {
	n := NewNetwork()
	for _, bp := range p.Buses {
		bus, err := bp.Bus()
		if err != nil {
			return nil, err
		}
		n.Add(bus)
	}
	return n, nil
}

func (bp BusProfile) Bus() (*Bus, error) {
	if bp.Name == "" {
		return nil, fmt.Errorf("simulator bus without name")
	}
	bus := NewBus(bp.Name)
	bus.SetLatency(time.Duration(bp.LatencyMs) * time.Millisecond)
	for _, dp := range bp.Devices {
		dev, err := dp.Device()
		if err != nil {
			return nil, fmt.Errorf("bus %s: %w", bp.Name, err)
		}
		bus.Attach(dev)
	}
	if bp.Controller {
		bus.SetController(true)
	}
	return bus, nil
}

func (dp DeviceProfile) Device() (*SC2470, error) {
	serial, err := strconv.ParseUint(dp.Serial, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("device in slot %d: bad serial %q", dp.Slot, dp.Serial)
	}
	var opts []DeviceOption
	if dp.Model != "" {
		opts = append(opts, WithModel(dp.Model))
	}
	if dp.Firmware != "" {
		opts = append(opts, WithFirmware(dp.Firmware))
	}
	if dp.Hardware != "" {
		opts = append(opts, WithHardware(dp.Hardware))
	}
	if dp.Peripheral {
		opts = append(opts, WithRole(fesd.RolePeripheral))
	}
	if dp.LOStepHz > 0 {
		opts = append(opts, WithLOStep(dp.LOStepHz))
	}
	for path, lim := range dp.GainLimits {
		if len(lim) != 2 || lim[0] > lim[1] {
			return nil, fmt.Errorf("device in slot %d: gain limits for %s must be [min, max]", dp.Slot, path)
		}
		opts = append(opts, WithGainLimits(path, lim[0], lim[1]))
	}
	return NewSC2470(dp.Slot, uint32(serial), opts...), nil
}
