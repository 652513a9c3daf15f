package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"

	COMMAND_GAIN        = "gain"
	COMMAND_FREQUENCIES = "frequencies"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("fesd_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:        mqtt.NewClient(opts),
		cfg:           cfg.MQTT,
		commandRegexp: commandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client        mqtt.Client
	cfg           config.MQTTConfig
	commandRegexp *regexp.Regexp
}

type ParsedMQTTCommand struct {
	Serial  string
	Path    string
	Command string
	Payload string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) InventoryTopic() string {
	return fmt.Sprintf("%s/devices", c.baseTopic())
}

func (c *MQTTClient) DeviceStateTopic(serial string, path sc2470.Path, command string) string {
	return fmt.Sprintf("%s/device/%s/%s/%s", c.baseTopic(), serial, strings.ToLower(path.String()), command)
}

func (c *MQTTClient) DeviceCommandTopic(serial string, path sc2470.Path, command string) string {
	return c.DeviceStateTopic(serial, path, command) + "/set"
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	return parseCommand(c.commandRegexp, msg.Topic(), string(msg.Payload()))
}

func parseCommand(r *regexp.Regexp, topic, payload string) (*ParsedMQTTCommand, error) {
	matches := r.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 {
		return nil, errors.New("invalid command")
	}
	if len(matches[0]) != 4 {
		return nil, errors.New("invalid device command")
	}
	return &ParsedMQTTCommand{
		Serial:  strings.ToUpper(matches[0][1]),
		Path:    matches[0][2],
		Command: matches[0][3],
		Payload: payload,
	}, nil
}

// ToFrontEndCommand decodes the payload of a parsed command. Gain takes a
// plain number in dB; frequencies take the JSON plan, e.g.
// {"rf_hz":12.7e9,"if_hz":6e9}.
func (cmd ParsedMQTTCommand) ToFrontEndCommand() (domain.FrontEndCommand, error) {
	path, err := sc2470.ParsePath(cmd.Path)
	if err != nil {
		return nil, err
	}
	switch cmd.Command {
	case COMMAND_GAIN:
		gain, err := strconv.ParseFloat(strings.TrimSpace(cmd.Payload), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gain payload %q: %w", cmd.Payload, err)
		}
		return domain.SetGainCommand{Serial: cmd.Serial, Path: path, GainDb: gain}, nil
	case COMMAND_FREQUENCIES:
		var set sc2470.FrequencySet
		if err := json.Unmarshal([]byte(cmd.Payload), &set); err != nil {
			return nil, fmt.Errorf("invalid frequencies payload: %w", err)
		}
		return domain.SetFrequenciesCommand{Serial: cmd.Serial, Path: path, Frequencies: set}, nil
	}
	return nil, fmt.Errorf("unknown command %q", cmd.Command)
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/device/+/+/+/set", c.baseTopic())
}

func commandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/device/([a-zA-Z0-9]+)/(rx|tx)/(%s|%s)/set$",
		regexp.QuoteMeta(baseTopic), COMMAND_GAIN, COMMAND_FREQUENCIES))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
