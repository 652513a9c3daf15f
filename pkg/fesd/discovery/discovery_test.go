package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/discovery"
	"github.com/berfenger/fesd/pkg/fesd/simulator"
	"github.com/berfenger/fesd/pkg/fesd/transport"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = discovery.Config{Window: 5 * time.Second, MaxSlot: 1}

func newProber(t *testing.T, buses ...*simulator.Bus) *transport.Multiplexer {
	t.Helper()
	return newProberWith(t, transport.ExchangeConfig{Timeout: 100 * time.Millisecond, Retries: 1}, buses...)
}

func newProberWith(t *testing.T, exchange transport.ExchangeConfig, buses ...*simulator.Bus) *transport.Multiplexer {
	t.Helper()
	system := actor.NewActorSystem()
	network := simulator.NewNetwork(buses...)
	var transports []*transport.Transport
	for _, b := range buses {
		tr, err := transport.Open(system, network, b.Name(), transport.Options{Exchange: exchange})
		require.NoError(t, err)
		transports = append(transports, tr)
	}
	mux := transport.NewMultiplexer(fesd.NewRegistry(), transports...)
	t.Cleanup(func() { _ = mux.Close() })
	return mux
}

func TestRunOrdersByPortThenSlot(t *testing.T) {

	require := require.New(t)

	com6 := simulator.NewBus("COM6",
		simulator.NewSC2470(1, 0xA1, simulator.WithHardware("2.2")),
		simulator.NewSC2470(0, 0xA0))
	com14 := simulator.NewBus("COM14", simulator.NewSC2470(1, 0xB1, simulator.WithFirmware("2.0.0")))
	prober := newProber(t, com14, com6)

	res, err := discovery.Run(context.Background(), prober, testConfig, nil)
	require.NoError(err)
	require.Empty(res.Failed)
	require.Empty(res.Soft)
	require.Equal([]fesd.Device{
		{SerialNumber: "000000B1", SerialNumberValue: 0xB1, SlotID: 1, Type: fesd.DeviceTypeSC2470, Port: "COM14", FirmwareVersion: "2.0.0", HardwareVersion: "2.1"},
		{SerialNumber: "000000A0", SerialNumberValue: 0xA0, SlotID: 0, Type: fesd.DeviceTypeSC2470, Port: "COM6", FirmwareVersion: "1.4.2", HardwareVersion: "2.1"},
		{SerialNumber: "000000A1", SerialNumberValue: 0xA1, SlotID: 1, Type: fesd.DeviceTypeSC2470, Port: "COM6", FirmwareVersion: "1.4.2", HardwareVersion: "2.2"},
	}, res.Devices)
}

func TestRunIsRepeatable(t *testing.T) {

	require := require.New(t)

	bus := simulator.NewBus("COM6", simulator.NewSC2470(1, 0xA1))
	prober := newProber(t, bus)

	first, err := discovery.Run(context.Background(), prober, testConfig, nil)
	require.NoError(err)
	second, err := discovery.Run(context.Background(), prober, testConfig, nil)
	require.NoError(err)
	require.Equal(first.Devices, second.Devices)
}

func TestRunPartialFailure(t *testing.T) {

	assert := assert.New(t)

	alive := simulator.NewBus("COM6", simulator.NewSC2470(1, 0xA1))
	dead := simulator.NewBus("COM14")
	prober := newProber(t, alive, dead)

	res, err := discovery.Run(context.Background(), prober, testConfig, nil)
	assert.NoError(err)
	assert.Len(res.Devices, 1)
	assert.Contains(res.Failed, "COM14")
	assert.ErrorIs(res.Failed["COM14"], fesd.ErrCommandTimeout)
}

func TestRunAllPortsFailed(t *testing.T) {

	prober := newProber(t, simulator.NewBus("COM6"), simulator.NewBus("COM14"))

	_, err := discovery.Run(context.Background(), prober, testConfig, nil)
	assert.ErrorIs(t, err, fesd.ErrDiscovery)
	assert.ErrorIs(t, err, fesd.ErrCommandTimeout)
}

func TestRunZeroDevicesIsSuccess(t *testing.T) {

	bus := simulator.NewBus("COM6")
	bus.SetController(true)
	prober := newProber(t, bus)

	res, err := discovery.Run(context.Background(), prober, testConfig, nil)
	assert.NoError(t, err)
	assert.Empty(t, res.Devices)
}

func TestRunDropsUnparsableReplies(t *testing.T) {

	assert := assert.New(t)

	dev := simulator.NewSC2470(0, 0xA0)
	bus := simulator.NewBus("COM6", dev, simulator.NewSC2470(1, 0xA1))
	prober := newProber(t, bus)

	// the device in slot 0 rejects its identify request
	dev.FailNext(fesd.StatusBusy)
	res, err := discovery.Run(context.Background(), prober, testConfig, nil)
	assert.NoError(err)
	assert.Len(res.Soft, 1)
	if assert.Len(res.Devices, 1) {
		assert.Equal(uint16(1), res.Devices[0].SlotID)
	}
}

type garbledProber struct{}

func (garbledProber) Ports() []string { return []string{"COM6"} }

func (garbledProber) Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error) {
	if req.Command() == "*IDN?" {
		return &wire.Response{Command: req.Command(), Payload: []string{"???"}, Status: wire.StatusOK}, nil
	}
	return &wire.Response{Command: req.Command(), Payload: []string{"1.0"}, Status: wire.StatusOK}, nil
}

func TestRunSoftParseErrors(t *testing.T) {

	res, err := discovery.Run(context.Background(), garbledProber{}, testConfig, nil)
	assert.NoError(t, err)
	assert.Empty(t, res.Devices)
	assert.Len(t, res.Soft, 2)
	for _, soft := range res.Soft {
		assert.ErrorIs(t, soft, fesd.ErrProtocol)
		assert.ErrorIs(t, soft, wire.ErrMalformed)
	}
}

type stuckProber struct{}

func (stuckProber) Ports() []string { return []string{"COM6"} }

func (stuckProber) Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error) {
	time.Sleep(time.Hour)
	return nil, nil
}

func TestRunAbandonsStuckPort(t *testing.T) {

	start := time.Now()
	_, err := discovery.Run(context.Background(), stuckProber{}, discovery.Config{Window: 50 * time.Millisecond}, nil)
	assert.ErrorIs(t, err, fesd.ErrDiscovery)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunKeepsDevicesFoundWithinWindow(t *testing.T) {

	require := require.New(t)

	bus := simulator.NewBus("COM6", simulator.NewSC2470(0, 0xA0), simulator.NewSC2470(1, 0xA1))
	prober := newProberWith(t, transport.ExchangeConfig{Timeout: 50 * time.Millisecond}, bus)

	// 14 empty slots at 50 ms each cannot fit in the window
	start := time.Now()
	res, err := discovery.Run(context.Background(), prober, discovery.Config{Window: 400 * time.Millisecond, MaxSlot: 15}, nil)
	require.NoError(err)
	require.Empty(res.Failed)
	require.Equal([]string{"COM6"}, res.Truncated)
	require.Len(res.Devices, 2)
	require.Equal(uint16(0), res.Devices[0].SlotID)
	require.Equal(uint16(1), res.Devices[1].SlotID)
	require.Less(time.Since(start), 2*time.Second)
}

func TestRunCompletePassIsNotTruncated(t *testing.T) {

	bus := simulator.NewBus("COM6", simulator.NewSC2470(0, 0xA0))
	res, err := discovery.Run(context.Background(), newProber(t, bus), testConfig, nil)
	assert.NoError(t, err)
	assert.Empty(t, res.Truncated)
	assert.Len(t, res.Devices, 1)
}

// hangingSlotProber answers the controller and slot 0, then hangs on slot 1
// without watching ctx.
type hangingSlotProber struct{}

func (hangingSlotProber) Ports() []string { return []string{"COM6"} }

func (hangingSlotProber) Probe(ctx context.Context, port string, req wire.Request) (*wire.Response, error) {
	switch {
	case !req.Addressed:
		return &wire.Response{Command: req.Command(), Payload: []string{"1.0"}, Status: wire.StatusOK}, nil
	case req.Slot > 0:
		time.Sleep(time.Hour)
	case req.Command() == "*IDN?":
		return &wire.Response{Addressed: true, Command: req.Command(), Payload: []string{"SIGNALCRAFT,SC2470,000000A0,1.4.2"}, Status: wire.StatusOK}, nil
	}
	return &wire.Response{Addressed: true, Command: req.Command(), Payload: []string{"#H000000A0", "2024-03-01", "2.1"}, Status: wire.StatusOK}, nil
}

func TestRunKeepsDevicesWhenSlotHangs(t *testing.T) {

	require := require.New(t)

	res, err := discovery.Run(context.Background(), hangingSlotProber{}, discovery.Config{Window: 50 * time.Millisecond, MaxSlot: 3}, nil)
	require.NoError(err)
	require.Empty(res.Failed)
	require.Equal([]string{"COM6"}, res.Truncated)
	require.Len(res.Devices, 1)
	require.Equal("000000A0", res.Devices[0].SerialNumber)
}

func TestRunCallerCancelFailsPort(t *testing.T) {

	bus := simulator.NewBus("COM6", simulator.NewSC2470(0, 0xA0))
	prober := newProber(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := discovery.Run(ctx, prober, testConfig, nil)
	assert.ErrorIs(t, err, fesd.ErrDiscovery)
	assert.Empty(t, res.Truncated)
}
