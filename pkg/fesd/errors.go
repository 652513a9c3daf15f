package fesd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration            = errors.New("configuration error")
	ErrPortUnavailable          = errors.New("port unavailable")
	ErrDiscovery                = errors.New("discovery failed")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrTypeMismatch             = errors.New("device type mismatch")
	ErrCommandTimeout           = errors.New("command timeout")
	ErrProtocol                 = errors.New("protocol error")
	ErrFrequencyOutOfRange      = errors.New("frequency out of range")
	ErrUnsupportedFrequencyPlan = errors.New("unsupported frequency plan")
	ErrGainOutOfRange           = errors.New("gain out of range")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrCalibration              = errors.New("device not calibrated")
	ErrDeviceRejected           = errors.New("device rejected command")
	ErrSessionClosed            = errors.New("session closed")
)

// CommandError carries the failure kind together with enough context to
// diagnose it: which device, which path, what was requested.
type CommandError struct {
	Kind     error
	Serial   string
	Port     string
	Path     string
	Command  string
	Values   string
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Command != "" {
		fmt.Fprintf(&b, ": %s", e.Command)
	}
	var ctx []string
	if e.Serial != "" {
		ctx = append(ctx, "serial="+e.Serial)
	}
	if e.Port != "" {
		ctx = append(ctx, "port="+e.Port)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Values != "" {
		ctx = append(ctx, "values="+e.Values)
	}
	if e.Attempts > 0 {
		ctx = append(ctx, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ctx, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DeviceError is a rejection reported by the device itself in the status
// line of a response.
type DeviceError struct {
	Status string
	Detail string
}

func (e *DeviceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("device status %s", e.Status)
	}
	return fmt.Sprintf("device status %s: %s", e.Status, e.Detail)
}

// Device status codes carried after ERR in a response status line.
const (
	StatusRange  = "RANGE"
	StatusPlan   = "PLAN"
	StatusArg    = "ARG"
	StatusSyntax = "SYNTAX"
	StatusBusy   = "BUSY"
)

// WithContext fills the empty context fields of a CommandError found in err,
// or wraps err in a new one of the given kind. The CommandError in err is
// copied, never changed; text wrapped around it in err is kept.
func WithContext(err error, kind error, fill CommandError) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		c := *cmdErr
		if c.Serial == "" {
			c.Serial = fill.Serial
		}
		if c.Port == "" {
			c.Port = fill.Port
		}
		if c.Path == "" {
			c.Path = fill.Path
		}
		if c.Command == "" {
			c.Command = fill.Command
		}
		if c.Values == "" {
			c.Values = fill.Values
		}
		if _, direct := err.(*CommandError); direct {
			return &c
		}
		return &contextError{
			msg:  strings.Replace(err.Error(), cmdErr.Error(), c.Error(), 1),
			cmd:  &c,
			orig: err,
		}
	}
	fill.Kind = kind
	fill.Err = err
	return &fill
}

// contextError is a wrapped CommandError after WithContext: the wrapping
// text stays, and the filled copy is the first match for errors.As.
type contextError struct {
	msg  string
	cmd  *CommandError
	orig error
}

func (e *contextError) Error() string {
	return e.msg
}

func (e *contextError) Unwrap() []error {
	return []error{e.cmd, e.orig}
}
