package transport

import (
	"io"
	"time"
)

// Port is an open serial line. Read waits at most one poll interval and
// returns (0, nil) when nothing arrived in that time.
type Port interface {
	io.ReadWriteCloser
	Name() string
	ResetInputBuffer() error
}

type Opener interface {
	Open(name string) (Port, error)
}

type OpenerFunc func(name string) (Port, error)

func (f OpenerFunc) Open(name string) (Port, error) {
	return f(name)
}

type Instrument struct {
	RecordTime func(command string, d time.Duration)
}

func RecordTimer(command string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(command, duration)
		}
	}
}

type ExchangeConfig struct {
	// Timeout bounds one attempt, from write to complete response.
	Timeout time.Duration `mapstructure:"timeout"`
	// Retries is the number of extra attempts after a timeout or a bad frame.
	Retries int `mapstructure:"retries"`
	// SettleTime is how long a port stays reserved after a reset command.
	SettleTime time.Duration `mapstructure:"settle_time"`
	// QueueTimeout bounds the wait for a port when the caller context has no deadline.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
}

func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{
		Timeout:      2 * time.Second,
		Retries:      2,
		SettleTime:   10 * time.Second,
		QueueTimeout: time.Minute,
	}
}

func (c ExchangeConfig) withDefaults() ExchangeConfig {
	def := DefaultExchangeConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.SettleTime < 0 {
		c.SettleTime = 0
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = def.QueueTimeout
	}
	return c
}
