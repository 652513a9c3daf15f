package actor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/mqtt"
	"github.com/berfenger/fesd/internal/util/actorutil"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() config.Config {
	return config.Config{
		MQTT: config.MQTTConfig{
			Enable:            true,
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "fesd",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
	}
}

func receive(t *testing.T, sink <-chan PublishedMessage) PublishedMessage {
	t.Helper()
	select {
	case m := <-sink:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
	return PublishedMessage{}
}

func TestMQTTActorPublishesEvents(t *testing.T) {

	require := require.New(t)

	cfg := testConfig()
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	es := &eventstream.EventStream{}
	sink := make(chan PublishedMessage, 16)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, sink, logger) }))
	defer context.Stop(pid)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(ok)
	require.True(resp.Healthy)

	publisher := NewEventStreamPublisher(es)
	publisher.Publish(domain.GainAppliedEvent{Serial: "1A2B3C4D", Path: sc2470.PathRX, GainDb: -10})
	m := receive(t, sink)
	require.Equal("fesd/device/1A2B3C4D/rx/gain", m.Topic)
	require.JSONEq(`{"gain_db":-10}`, m.Payload)
	require.True(m.Retain)

	publisher.Publish(domain.FrequenciesAppliedEvent{Serial: "1A2B3C4D", Path: sc2470.PathTX,
		Frequencies: sc2470.FrequencySet{RfHz: 12.7e9, IfHz: 6e9, LoHz: 6.7e9}})
	m = receive(t, sink)
	require.Equal("fesd/device/1A2B3C4D/tx/frequencies", m.Topic)
	var set sc2470.FrequencySet
	require.NoError(json.Unmarshal([]byte(m.Payload), &set))
	require.Equal(6e9, set.IfHz)

	devices := []fesd.Device{{SerialNumber: "1A2B3C4D", SlotID: 1, Port: "COM6", Type: fesd.DeviceTypeSC2470}}
	publisher.Publish(domain.InventoryUpdateEvent{Devices: devices})
	m = receive(t, sink)
	require.Equal("fesd/devices", m.Topic)
	require.Contains(m.Payload, `"serial_number":"1A2B3C4D"`)
	require.Contains(m.Payload, `"type":"SC2470"`)
	// two paths, a gain number and an RF sensor each
	for i := 0; i < 4; i++ {
		m = receive(t, sink)
		require.Contains(m.Topic, "homeassistant/")
	}

	publisher.Publish(domain.BridgeStateUpdateEvent{Online: false})
	m = receive(t, sink)
	require.Equal("fesd/bridge/state", m.Topic)
	require.Equal(mqtt.MQTT_PAYLOAD_OFFLINE, m.Payload)
}

type parentProbe struct {
	child    *actor.PID
	commands chan domain.FrontEndCommand
	props    *actor.Props
}

func (p *parentProbe) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		p.child = ctx.Spawn(p.props)
	case *mqtt.ParsedMQTTCommand:
		ctx.Send(p.child, ParsedCommand{Command: msg})
	case domain.CommandRequest:
		p.commands <- msg.Command
	}
}

func TestMQTTActorForwardsCommands(t *testing.T) {

	assert := assert.New(t)

	cfg := testConfig()
	logger := zap.NewNop()
	as := actor.NewActorSystem()
	defer as.Shutdown()

	probe := &parentProbe{
		commands: make(chan domain.FrontEndCommand, 1),
		props: actor.PropsFromProducer(func() actor.Actor {
			return NewTestMQTTActor(&cfg, nil, make(chan PublishedMessage, 1), logger)
		}),
	}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probe }))

	as.Root.Send(pid, &mqtt.ParsedMQTTCommand{Serial: "1A2B3C4D", Path: "rx", Command: mqtt.COMMAND_GAIN, Payload: "3"})
	select {
	case cmd := <-probe.commands:
		assert.Equal(domain.SetGainCommand{Serial: "1A2B3C4D", Path: sc2470.PathRX, GainDb: 3}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("command not forwarded")
	}
}
