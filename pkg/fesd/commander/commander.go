// Package commander holds the capabilities every device family shares and
// the helpers family commanders build on.
package commander

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
)

// Exchanger runs requests against a device by serial number. The
// transport Multiplexer is the production implementation.
type Exchanger interface {
	Exchange(ctx context.Context, serial string, req wire.Request) (*wire.Response, error)
	Notify(ctx context.Context, serial string, req wire.Request, settle time.Duration) error
}

const (
	opIdentify      = "*IDN"
	opManufacturing = "MAINT:GETMANUF"
	opSystemRole    = "SYS:ROLE"
	opChannelCount  = "SYS:NCHAN"
	opReset         = "*RST"
)

// Manufacturing is the factory record of a device.
type Manufacturing struct {
	SerialNumber      string
	SerialNumberValue uint32
	Date              string
	HardwareVersion   string
}

// Base binds an Exchanger to one device. The device is the source of
// truth, Base keeps no state of its own.
type Base struct {
	mux    Exchanger
	device fesd.Device
	settle time.Duration
}

// NewBase binds mux to device. A negative settle uses the port default for
// resets.
func NewBase(mux Exchanger, device fesd.Device, settle time.Duration) *Base {
	return &Base{mux: mux, device: device, settle: settle}
}

func (b *Base) Device() fesd.Device {
	return b.device
}

// Exchange runs req on the device and tags failures with the device and
// path. Device rejections are classified by their status.
func (b *Base) Exchange(ctx context.Context, path string, req wire.Request) (*wire.Response, error) {
	resp, err := b.mux.Exchange(ctx, b.device.SerialNumber, req)
	if err != nil {
		return nil, Reclassify(b.withContext(err, path, req), nil)
	}
	return resp, nil
}

func (b *Base) withContext(err error, path string, req wire.Request) error {
	return fesd.WithContext(err, fesd.ErrProtocol, fesd.CommandError{
		Serial:  b.device.SerialNumber,
		Port:    b.device.Port,
		Path:    path,
		Command: req.Command(),
		Values:  strings.Join(req.Args, " "),
	})
}

// Malformed reports a reply that does not carry what the command promises.
func (b *Base) Malformed(path string, req wire.Request, err error) error {
	return &fesd.CommandError{
		Kind:    fesd.ErrProtocol,
		Serial:  b.device.SerialNumber,
		Port:    b.device.Port,
		Path:    path,
		Command: req.Command(),
		Values:  strings.Join(req.Args, " "),
		Err:     err,
	}
}

// Invalid reports an argument rejected before anything was sent.
func (b *Base) Invalid(kind error, path, command string, values string, err error) error {
	return &fesd.CommandError{
		Kind:    kind,
		Serial:  b.device.SerialNumber,
		Port:    b.device.Port,
		Path:    path,
		Command: command,
		Values:  values,
		Err:     err,
	}
}

func (b *Base) Identify(ctx context.Context) (fesd.Identity, error) {
	req := wire.Query(opIdentify, b.device.SlotID)
	resp, err := b.Exchange(ctx, "", req)
	if err != nil {
		return fesd.Identity{}, err
	}
	id, err := ParseIdentity(resp.Payload)
	if err != nil {
		return fesd.Identity{}, b.Malformed("", req, err)
	}
	return id, nil
}

func (b *Base) Manufacturing(ctx context.Context) (Manufacturing, error) {
	req := wire.Query(opManufacturing, b.device.SlotID)
	resp, err := b.Exchange(ctx, "", req)
	if err != nil {
		return Manufacturing{}, err
	}
	m, err := ParseManufacturing(resp.Payload)
	if err != nil {
		return Manufacturing{}, b.Malformed("", req, err)
	}
	return m, nil
}

func (b *Base) SystemRole(ctx context.Context) (fesd.SystemRole, error) {
	req := wire.Query(opSystemRole, b.device.SlotID)
	resp, err := b.Exchange(ctx, "", req)
	if err != nil {
		return fesd.RoleController, err
	}
	if err := wire.Fields(resp.Payload, 1); err != nil {
		return fesd.RoleController, b.Malformed("", req, err)
	}
	role, err := fesd.ParseSystemRole(resp.Payload[0])
	if err != nil {
		return fesd.RoleController, b.Malformed("", req, err)
	}
	return role, nil
}

func (b *Base) ChannelCount(ctx context.Context) (int, error) {
	req := wire.Query(opChannelCount, b.device.SlotID)
	resp, err := b.Exchange(ctx, "", req)
	if err != nil {
		return 0, err
	}
	if err := wire.Fields(resp.Payload, 1); err != nil {
		return 0, b.Malformed("", req, err)
	}
	n, err := wire.ParseInt(resp.Payload[0])
	if err != nil {
		return 0, b.Malformed("", req, err)
	}
	return n, nil
}

// Reset restarts the device. The port stays reserved while the device
// boots; the device must identify as the same type afterwards.
func (b *Base) Reset(ctx context.Context) error {
	req := wire.Set(opReset, b.device.SlotID)
	if err := b.mux.Notify(ctx, b.device.SerialNumber, req, b.settle); err != nil {
		return b.withContext(err, "", req)
	}
	id, err := b.Identify(ctx)
	if err != nil {
		return err
	}
	if id.Type != b.device.Type {
		return b.Invalid(fesd.ErrTypeMismatch, "", opIdentify+"?", id.TypeName,
			fmt.Errorf("device identifies as %s after reset, expected %s", id.TypeName, b.device.Type))
	}
	return nil
}

// ParseIdentity decodes an identify payload: VENDOR,TYPE,SERIAL,FIRMWARE.
func ParseIdentity(payload []string) (fesd.Identity, error) {
	fields := strings.Split(strings.Join(payload, " "), ",")
	if len(fields) < 4 {
		return fesd.Identity{}, fmt.Errorf("%w: identity %q", wire.ErrMalformed, strings.Join(payload, " "))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fesd.Identity{
		Vendor:          fields[0],
		Type:            fesd.ParseDeviceType(fields[1]),
		TypeName:        fields[1],
		FirmwareVersion: fields[3],
	}, nil
}

// ParseManufacturing decodes a manufacturing payload: #H<serial> DATE HW.
func ParseManufacturing(payload []string) (Manufacturing, error) {
	if err := wire.Fields(payload, 3); err != nil {
		return Manufacturing{}, err
	}
	hex, found := strings.CutPrefix(payload[0], "#H")
	if !found {
		return Manufacturing{}, fmt.Errorf("%w: serial number %q", wire.ErrMalformed, payload[0])
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Manufacturing{}, fmt.Errorf("%w: serial number %q", wire.ErrMalformed, payload[0])
	}
	return Manufacturing{
		SerialNumber:      fmt.Sprintf("%08X", value),
		SerialNumberValue: uint32(value),
		Date:              payload[1],
		HardwareVersion:   payload[2],
	}, nil
}

// Reclassify gives a device rejection the error kind of the operation that
// caused it. outOfRange is the kind for a RANGE status; nil keeps the
// generic rejection.
func Reclassify(err error, outOfRange error) error {
	var devErr *fesd.DeviceError
	var cmdErr *fesd.CommandError
	if !errors.As(err, &devErr) || !errors.As(err, &cmdErr) {
		return err
	}
	kind := fesd.ErrDeviceRejected
	switch devErr.Status {
	case fesd.StatusRange:
		if outOfRange != nil {
			kind = outOfRange
		}
	case fesd.StatusPlan:
		kind = fesd.ErrUnsupportedFrequencyPlan
	case fesd.StatusArg, fesd.StatusSyntax:
		kind = fesd.ErrInvalidArgument
	}
	c := *cmdErr
	c.Kind = kind
	return &c
}

var _ fesd.Commander = (*Base)(nil)
