// Package serialport opens real serial lines for the transport layer.
package serialport

import (
	"fmt"
	"strings"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/transport"
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Config is the line setup shared by every port of a session. The front
// end console runs 8E1.
type Config struct {
	Driver       string        `mapstructure:"driver"`
	Baud         int           `mapstructure:"baud"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func DefaultConfig() Config {
	return Config{
		Driver:       DriverBugst,
		Baud:         115200,
		PollInterval: 50 * time.Millisecond,
	}
}

// NewOpener returns the opener for the configured driver.
func NewOpener(cfg Config) (transport.Opener, error) {
	def := DefaultConfig()
	if cfg.Baud <= 0 {
		cfg.Baud = def.Baud
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	switch strings.ToLower(cfg.Driver) {
	case "", DriverBugst:
		return bugstOpener{cfg: cfg}, nil
	case DriverTarm:
		return tarmOpener{cfg: cfg}, nil
	}
	return nil, &fesd.CommandError{Kind: fesd.ErrConfiguration, Values: cfg.Driver, Err: fmt.Errorf("unknown serial driver")}
}
