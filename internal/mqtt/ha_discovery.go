package mqtt

import (
	"fmt"
	"strings"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	ValueTemplate     string            `json:"value_template,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	HwVersion    string   `json:"hw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// HADiscoveryEntity is one retained discovery message.
type HADiscoveryEntity struct {
	Topic  string
	Config HADiscoveryConfig
}

// Bounds of the gain entity. The device refuses values outside its own
// calibrated limits.
const (
	haGainMin = -30
	haGainMax = 30
)

func haObjectId(d fesd.Device, path sc2470.Path, what string) string {
	return fmt.Sprintf("fesd_%s_%s_%s", strings.ToLower(d.SerialNumber), strings.ToLower(path.String()), what)
}

// HADiscoveryEntities describes, for every SC2470 path, a gain number the
// user can set and an RF frequency sensor.
func HADiscoveryEntities(client *MQTTClient, discoveryTopic string, d fesd.Device) []HADiscoveryEntity {
	if d.Type != fesd.DeviceTypeSC2470 {
		return nil
	}
	dev := HADiscoveryDevice{
		Id:           []string{"fesd_" + strings.ToLower(d.SerialNumber)},
		Manufacturer: "SignalCraft",
		Version:      d.FirmwareVersion,
		HwVersion:    d.HardwareVersion,
		Model:        d.Type.String(),
		Name:         fmt.Sprintf("%s %s", d.Type, d.SerialNumber),
	}
	var entities []HADiscoveryEntity
	for _, path := range []sc2470.Path{sc2470.PathRX, sc2470.PathTX} {
		gainId := haObjectId(d, path, COMMAND_GAIN)
		entities = append(entities, HADiscoveryEntity{
			Topic: fmt.Sprintf("%s/number/%s/config", discoveryTopic, gainId),
			Config: HADiscoveryConfig{
				Device:            dev,
				StateTopic:        client.DeviceStateTopic(d.SerialNumber, path, COMMAND_GAIN),
				CommandTopic:      client.DeviceCommandTopic(d.SerialNumber, path, COMMAND_GAIN),
				ValueTemplate:     "{{ value_json.gain_db }}",
				UnitOfMeasurement: "dB",
				AvTopic:           client.BridgeStateTopic(),
				EntityCategory:    "config",
				Name:              fmt.Sprintf("%s gain", path),
				UniqueId:          gainId,
				Platform:          "mqtt",
				Icon:              "mdi:tune-vertical",
				Min:               haGainMin,
				Max:               haGainMax,
				Step:              sc2470.SC2470.GainStepDb,
				Mode:              "box",
			},
		})
		rfId := haObjectId(d, path, "rf")
		entities = append(entities, HADiscoveryEntity{
			Topic: fmt.Sprintf("%s/sensor/%s/config", discoveryTopic, rfId),
			Config: HADiscoveryConfig{
				Device:            dev,
				StateTopic:        client.DeviceStateTopic(d.SerialNumber, path, COMMAND_FREQUENCIES),
				ValueTemplate:     "{{ value_json.rf_hz }}",
				DeviceClass:       "frequency",
				UnitOfMeasurement: "Hz",
				AvTopic:           client.BridgeStateTopic(),
				EntityCategory:    "diagnostic",
				Name:              fmt.Sprintf("%s RF frequency", path),
				UniqueId:          rfId,
				Platform:          "mqtt",
				Icon:              "mdi:sine-wave",
			},
		})
	}
	return entities
}
