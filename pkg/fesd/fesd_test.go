package fesd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortList(t *testing.T) {

	assert := assert.New(t)

	ports, err := ParsePortList("COM6, COM14")
	assert.NoError(err)
	assert.Equal([]string{"COM6", "COM14"}, ports)

	ports, err = ParsePortList(" /dev/ttyUSB0 ,/dev/ttyUSB1,/dev/ttyUSB0 ")
	assert.NoError(err)
	assert.Equal([]string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, ports, "duplicates dropped, order kept")
}

func TestParsePortListRejectsEmptyEntries(t *testing.T) {

	for _, in := range []string{"", "   ", "COM6,,COM14", "COM6, ", ","} {
		_, err := ParsePortList(in)
		assert.ErrorIs(t, err, ErrConfiguration, "input %q", in)
	}
}

func TestRegistryReplaceKeepsOrderAndDeduplicates(t *testing.T) {

	require := require.New(t)

	r := NewRegistry()
	require.Equal(0, r.Len())

	a := Device{SerialNumber: "A", SlotID: 0, Type: DeviceTypeSC2470, Port: "COM6"}
	b := Device{SerialNumber: "B", SlotID: 1, Type: DeviceTypeSC2470, Port: "COM6"}
	a2 := Device{SerialNumber: "A", SlotID: 1, Type: DeviceTypeSC2470, Port: "COM14"}

	r.Replace([]Device{a, b, a2})
	require.Equal([]Device{a2, b}, r.Devices())

	d, ok := r.Lookup("B")
	require.True(ok)
	require.Equal(b, d)

	d, ok = r.LookupSlot(1)
	require.True(ok)
	require.Equal(a2, d, "first device in order with slot 1")

	r.Replace(nil)
	_, ok = r.Lookup("A")
	require.False(ok)
	require.Empty(r.Devices())
}

func TestCommandErrorUnwrap(t *testing.T) {

	assert := assert.New(t)

	err := error(&CommandError{
		Kind:    ErrGainOutOfRange,
		Serial:  "1A2B",
		Path:    "RX",
		Command: "PATH:GAIN",
		Values:  "gain_db=42",
		Err:     context.Canceled,
	})
	assert.ErrorIs(err, ErrGainOutOfRange)
	assert.ErrorIs(err, context.Canceled)
	assert.Contains(err.Error(), "serial=1A2B")
	assert.Contains(err.Error(), "path=RX")
	assert.Contains(err.Error(), "gain_db=42")

	wrapped := fmt.Errorf("outer: %w", err)
	var cmdErr *CommandError
	assert.True(errors.As(wrapped, &cmdErr))
	assert.Equal("PATH:GAIN", cmdErr.Command)
}

func TestWithContext(t *testing.T) {

	assert := assert.New(t)

	base := &CommandError{Kind: ErrCommandTimeout, Command: "PATH:FREQ?", Attempts: 3}
	err := WithContext(base, ErrProtocol, CommandError{Serial: "S1", Path: "TX", Command: "ignored"})

	var cmdErr *CommandError
	assert.True(errors.As(err, &cmdErr))
	assert.Equal("S1", cmdErr.Serial)
	assert.Equal("TX", cmdErr.Path)
	assert.Equal("PATH:FREQ?", cmdErr.Command)
	assert.ErrorIs(err, ErrCommandTimeout)

	plain := WithContext(errors.New("boom"), ErrProtocol, CommandError{Serial: "S2"})
	assert.ErrorIs(plain, ErrProtocol)
	assert.Contains(plain.Error(), "boom")
	assert.Nil(WithContext(nil, ErrProtocol, CommandError{}))
}

func TestWithContextKeepsWrapping(t *testing.T) {

	assert := assert.New(t)

	inner := &CommandError{Kind: ErrDeviceRejected, Command: "PATH:GAIN", Attempts: 1}
	wrapped := fmt.Errorf("set gain: %w", inner)
	err := WithContext(wrapped, ErrProtocol, CommandError{Serial: "S1", Path: "RX"})

	assert.True(strings.HasPrefix(err.Error(), "set gain: "), err.Error())
	assert.Contains(err.Error(), "serial=S1")
	assert.Contains(err.Error(), "path=RX")
	assert.ErrorIs(err, ErrDeviceRejected)
	assert.NotErrorIs(err, ErrProtocol)

	var cmdErr *CommandError
	if assert.True(errors.As(err, &cmdErr)) {
		assert.Equal("S1", cmdErr.Serial)
		assert.Equal("PATH:GAIN", cmdErr.Command)
	}
	assert.Empty(inner.Serial, "inner error left untouched")
	assert.ErrorIs(err, wrapped)
}

func TestParseDeviceTypeAndRole(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(DeviceTypeSC2470, ParseDeviceType(" sc2470 "))
	assert.Equal(DeviceTypeUndefined, ParseDeviceType("SC9999"))

	role, err := ParseSystemRole("SLAVE")
	assert.NoError(err)
	assert.Equal(RolePeripheral, role)
	role, err = ParseSystemRole("master")
	assert.NoError(err)
	assert.Equal(RoleController, role)
	_, err = ParseSystemRole("boss")
	assert.Error(err)
}
