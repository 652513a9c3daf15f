package fesd

import (
	"context"
	"fmt"
	"strings"
)

type DeviceType int

const (
	DeviceTypeUndefined DeviceType = iota
	DeviceTypeSC2470
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeSC2470:
		return "SC2470"
	default:
		return "Undefined"
	}
}

// ParseDeviceType maps the type string reported by *IDN? onto a DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SC2470":
		return DeviceTypeSC2470
	default:
		return DeviceTypeUndefined
	}
}

func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DeviceType) UnmarshalText(b []byte) error {
	*t = ParseDeviceType(string(b))
	return nil
}

type SystemRole int

const (
	RoleController SystemRole = iota
	RolePeripheral
)

func (r SystemRole) String() string {
	if r == RolePeripheral {
		return "Peripheral"
	}
	return "Controller"
}

func ParseSystemRole(s string) (SystemRole, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MASTER":
		return RoleController, nil
	case "SLAVE":
		return RolePeripheral, nil
	}
	return RoleController, fmt.Errorf("unknown system role %q", s)
}

// Device is a discovered front end. Values are immutable and comparable.
type Device struct {
	SerialNumber      string     `json:"serial_number"`
	SerialNumberValue uint32     `json:"-"`
	SlotID            uint16     `json:"slot_id"`
	Type              DeviceType `json:"type"`
	Port              string     `json:"port"`
	FirmwareVersion   string     `json:"firmware_version"`
	HardwareVersion   string     `json:"hardware_version"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s#%s@%s/%d", d.Type, d.SerialNumber, d.Port, d.SlotID)
}

// Commander is the capability set shared by every device family.
type Commander interface {
	Device() Device
	Identify(ctx context.Context) (Identity, error)
	SystemRole(ctx context.Context) (SystemRole, error)
	Reset(ctx context.Context) error
}

// Identity is the decoded reply of an identify request.
type Identity struct {
	Vendor          string
	Type            DeviceType
	TypeName        string
	FirmwareVersion string
}

// ParsePortList splits a comma-separated list of port identifiers.
// Duplicates are dropped keeping the first occurrence.
func ParsePortList(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, &CommandError{Kind: ErrConfiguration, Values: list, Err: fmt.Errorf("empty port list")}
	}
	var ports []string
	seen := make(map[string]struct{})
	for i, entry := range strings.Split(list, ",") {
		name := strings.TrimSpace(entry)
		if name == "" {
			return nil, &CommandError{Kind: ErrConfiguration, Values: list, Err: fmt.Errorf("empty entry at position %d", i)}
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		ports = append(ports, name)
	}
	return ports, nil
}
