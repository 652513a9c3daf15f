package mqtt

import (
	"testing"

	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "fesd"}}
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	cmd, err := parseCommand(r, "loremTopic/device/1a2b3c4d/rx/gain/set", "4.5")
	if assert.NoError(err) {
		assert.Equal("1A2B3C4D", cmd.Serial, "serial extract")
		assert.Equal("rx", cmd.Path)
		assert.Equal(COMMAND_GAIN, cmd.Command)
		assert.Equal("4.5", cmd.Payload)
	}
}

func TestCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	for _, topic := range []string{
		"loremTopic/device/1A2B3C4D/rx/gain",
		"loremTopic/device/1A2B3C4D/ifpath/gain/set",
		"loremTopic/device/1A2B3C4D/rx/attenuation/set",
		"otherTopic/device/1A2B3C4D/rx/gain/set",
	} {
		_, err := parseCommand(r, topic, "1")
		assert.Error(err, topic)
	}
}

func TestToFrontEndCommand(t *testing.T) {

	require := require.New(t)

	cmd, err := ParsedMQTTCommand{Serial: "1A2B3C4D", Path: "tx", Command: COMMAND_GAIN, Payload: " -3.25 "}.ToFrontEndCommand()
	require.NoError(err)
	require.Equal(domain.SetGainCommand{Serial: "1A2B3C4D", Path: sc2470.PathTX, GainDb: -3.25}, cmd)

	cmd, err = ParsedMQTTCommand{Serial: "1A2B3C4D", Path: "rx", Command: COMMAND_FREQUENCIES,
		Payload: `{"rf_hz":12.7e9,"if_hz":6e9}`}.ToFrontEndCommand()
	require.NoError(err)
	require.Equal(domain.SetFrequenciesCommand{
		Serial:      "1A2B3C4D",
		Path:        sc2470.PathRX,
		Frequencies: sc2470.FrequencySet{RfHz: 12.7e9, IfHz: 6e9},
	}, cmd)

	_, err = ParsedMQTTCommand{Path: "rx", Command: COMMAND_GAIN, Payload: "loud"}.ToFrontEndCommand()
	require.Error(err)
	_, err = ParsedMQTTCommand{Path: "rx", Command: COMMAND_FREQUENCIES, Payload: "{"}.ToFrontEndCommand()
	require.Error(err)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("fesd/bridge/state", c.BridgeStateTopic())
	assert.Equal("fesd/devices", c.InventoryTopic())
	assert.Equal("fesd/device/1A2B3C4D/rx/gain", c.DeviceStateTopic("1A2B3C4D", sc2470.PathRX, COMMAND_GAIN))
	assert.Equal("fesd/device/1A2B3C4D/tx/frequencies/set", c.DeviceCommandTopic("1A2B3C4D", sc2470.PathTX, COMMAND_FREQUENCIES))

	// every command topic we advertise is one we accept
	_, err := parseCommand(c.commandRegexp, c.DeviceCommandTopic("1A2B3C4D", sc2470.PathTX, COMMAND_GAIN), "0")
	assert.NoError(err)
}

func TestHADiscoveryEntities(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	dev := fesd.Device{SerialNumber: "1A2B3C4D", Type: fesd.DeviceTypeSC2470, FirmwareVersion: "1.4.2"}
	entities := HADiscoveryEntities(c, "homeassistant", dev)
	assert.Len(entities, 4)
	assert.Equal("homeassistant/number/fesd_1a2b3c4d_rx_gain/config", entities[0].Topic)
	assert.Equal("fesd/device/1A2B3C4D/rx/gain/set", entities[0].Config.CommandTopic)
	assert.Equal(0.25, entities[0].Config.Step)
	assert.Equal("fesd/device/1A2B3C4D/rx/frequencies", entities[1].Config.StateTopic)
	assert.Equal("1.4.2", entities[1].Config.Device.Version)

	assert.Empty(HADiscoveryEntities(c, "homeassistant", fesd.Device{SerialNumber: "X"}))
}
