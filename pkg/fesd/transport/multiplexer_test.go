package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/simulator"
	"github.com/berfenger/fesd/pkg/fesd/transport"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMultiplexer(t *testing.T, registry *fesd.Registry, buses ...*simulator.Bus) *transport.Multiplexer {
	t.Helper()
	system := actor.NewActorSystem()
	network := simulator.NewNetwork(buses...)
	var transports []*transport.Transport
	for _, b := range buses {
		tr, err := transport.Open(system, network, b.Name(), withTimeout(fastExchange(), time.Second))
		require.NoError(t, err)
		transports = append(transports, tr)
	}
	mux := transport.NewMultiplexer(registry, transports...)
	t.Cleanup(func() { _ = mux.Close() })
	return mux
}

func TestMultiplexerRoutesBySerial(t *testing.T) {

	require := require.New(t)

	com6 := simulator.NewBus("COM6", simulator.NewSC2470(1, 0xA))
	com14 := simulator.NewBus("COM14", simulator.NewSC2470(0, 0xB))
	registry := fesd.NewRegistry()
	registry.Replace([]fesd.Device{
		{SerialNumber: "0000000A", SlotID: 1, Port: "COM6", Type: fesd.DeviceTypeSC2470},
		{SerialNumber: "0000000B", SlotID: 0, Port: "COM14", Type: fesd.DeviceTypeSC2470},
	})
	mux := newMultiplexer(t, registry, com6, com14)
	require.Equal([]string{"COM6", "COM14"}, mux.Ports())

	// the slot on the request is replaced by the device's
	resp, err := mux.Exchange(context.Background(), "0000000B", wire.Query("*IDN", 9))
	require.NoError(err)
	require.Equal("SIGNALCRAFT,SC2470,0000000B,1.4.2", resp.Payload[0])
	require.Equal(0, com6.Requests())
	require.Equal(1, com14.Requests())

	_, err = mux.Exchange(context.Background(), "DEADBEEF", wire.Query("*IDN", 0))
	require.ErrorIs(err, fesd.ErrDeviceNotFound)

	require.NoError(mux.Notify(context.Background(), "0000000A", wire.Set("*RST", 0), 10*time.Millisecond))
	require.Equal(1, com6.Device(1).Resets())

	_, ok := mux.Transport("COM6")
	require.True(ok)
	_, ok = mux.Transport("COM7")
	require.False(ok)
}

func TestMultiplexerAddsDeviceContext(t *testing.T) {

	assert := assert.New(t)

	dev := simulator.NewSC2470(1, 0xA)
	bus := simulator.NewBus("COM6", dev)
	registry := fesd.NewRegistry()
	registry.Replace([]fesd.Device{{SerialNumber: "0000000A", SlotID: 1, Port: "COM6"}})
	mux := newMultiplexer(t, registry, bus)

	dev.FailNext(fesd.StatusArg)
	_, err := mux.Exchange(context.Background(), "0000000A", wire.Set("LOCLK:EN", 0, "MAYBE"))
	assert.ErrorIs(err, fesd.ErrDeviceRejected)
	cmdErr, ok := err.(*fesd.CommandError)
	if assert.True(ok) {
		assert.Equal("0000000A", cmdErr.Serial)
		assert.Equal("COM6", cmdErr.Port)
		assert.Equal("LOCLK:EN", cmdErr.Command)
	}
}

func TestMultiplexerPortsRunInParallel(t *testing.T) {

	require := require.New(t)

	com6 := simulator.NewBus("COM6", simulator.NewSC2470(1, 0xA))
	com14 := simulator.NewBus("COM14", simulator.NewSC2470(1, 0xB))
	com6.SetLatency(150 * time.Millisecond)
	com14.SetLatency(150 * time.Millisecond)
	registry := fesd.NewRegistry()
	registry.Replace([]fesd.Device{
		{SerialNumber: "0000000A", SlotID: 1, Port: "COM6"},
		{SerialNumber: "0000000B", SlotID: 1, Port: "COM14"},
	})
	mux := newMultiplexer(t, registry, com6, com14)

	start := time.Now()
	var wg sync.WaitGroup
	for _, serial := range []string{"0000000A", "0000000B"} {
		wg.Add(1)
		go func(serial string) {
			defer wg.Done()
			_, err := mux.Exchange(context.Background(), serial, wire.Query("*IDN", 0))
			assert.NoError(t, err)
		}(serial)
	}
	wg.Wait()
	require.Less(time.Since(start), 280*time.Millisecond)
}

func TestMultiplexerProbe(t *testing.T) {

	require := require.New(t)

	bus := simulator.NewBus("COM6", simulator.NewSC2470(1, 0xA))
	mux := newMultiplexer(t, fesd.NewRegistry(), bus)

	resp, err := mux.Probe(context.Background(), "COM6", wire.Unaddressed("VER", true))
	require.NoError(err)
	require.False(resp.Addressed)

	_, err = mux.Probe(context.Background(), "COM9", wire.Query("*IDN", 1))
	require.ErrorIs(err, fesd.ErrPortUnavailable)
}
