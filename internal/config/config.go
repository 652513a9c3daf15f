package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/discovery"
	"github.com/berfenger/fesd/pkg/fesd/serialport"
	"github.com/berfenger/fesd/pkg/fesd/transport"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	LogFile  string `mapstructure:"log_file"`

	// Ports is the port list handed to the session, e.g. "COM6, COM14".
	Ports     string                   `mapstructure:"ports"`
	Serial    serialport.Config        `mapstructure:"serial"`
	Exchange  transport.ExchangeConfig `mapstructure:"exchange"`
	Discovery discovery.Config         `mapstructure:"discovery"`
	Simulator SimulatorConfig          `mapstructure:"simulator"`
	MQTT      MQTTConfig               `mapstructure:"mqtt"`

	RediscoveryInterval time.Duration `mapstructure:"rediscovery_interval"`
	Port                uint          `mapstructure:"port"`
	HttpLog             bool          `mapstructure:"http_log"`
}

// SimulatorConfig replaces the serial driver with simulated buses built
// from a device profile.
type SimulatorConfig struct {
	Profile string `mapstructure:"profile"`
}

type MQTTConfig struct {
	Enable    bool
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`

	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks bounds and normalizes the fields that have a canonical
// form.
func (cfg *Config) Validate() error {
	if _, err := fesd.ParsePortList(cfg.Ports); err != nil && cfg.Simulator.Profile == "" {
		return errors.New("config param ports must list at least one port, e.g. \"COM6, COM14\"")
	}
	switch strings.ToLower(cfg.Serial.Driver) {
	case serialport.DriverBugst, serialport.DriverTarm:
	default:
		return errors.New("config param serial.driver must be bugst or tarm")
	}
	if cfg.Serial.Baud <= 0 {
		return errors.New("config param serial.baud should be > 0")
	}
	if cfg.Exchange.Timeout < 10*time.Millisecond {
		return errors.New("config param exchange.timeout should be >= 10ms")
	}
	if cfg.Exchange.Retries < 0 || cfg.Exchange.Retries > 10 {
		return errors.New("config param exchange.retries should be within [0, 10]")
	}
	if cfg.Discovery.Window < time.Second {
		return errors.New("config param discovery.window should be >= 1s")
	}
	if cfg.RediscoveryInterval != 0 && cfg.RediscoveryInterval < 10*time.Second {
		return errors.New("config param rediscovery_interval should be 0 (disabled) or >= 10s")
	}

	if cfg.MQTT.Enable {
		baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		if cfg.MQTT.HADiscoveryEnable {
			hadTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
			if err != nil {
				return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
			}
			cfg.MQTT.HADiscoveryTopic = hadTopic
		}
	}
	return nil
}

// Redacted returns a copy that is safe to log.
func (cfg Config) Redacted() Config {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	return cfg
}
