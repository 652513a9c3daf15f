package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"go.uber.org/zap"
)

var errReadTimeout = errors.New("no complete response before deadline")

// exchanger performs request/response round trips on one port. It is only
// ever driven by the port actor, so it needs no locking.
type exchanger struct {
	port        Port
	codec       wire.Codec
	cfg         ExchangeConfig
	logger      *zap.Logger
	instruments []Instrument
	buf         []byte
	chunk       []byte
}

func newExchanger(port Port, codec wire.Codec, cfg ExchangeConfig, logger *zap.Logger, instruments []Instrument) *exchanger {
	return &exchanger{
		port:        port,
		codec:       codec,
		cfg:         cfg,
		logger:      logger,
		instruments: instruments,
		chunk:       make([]byte, 256),
	}
}

func (x *exchanger) exchange(ctx context.Context, req wire.Request) (*wire.Response, error) {
	defer RecordTimer(req.Command(), x.instruments)()

	frame := x.codec.EncodeRequest(req)
	attempts := x.cfg.Retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, x.fail(err, req, attempt-1, nil)
		}
		if err := x.send(frame); err != nil {
			return nil, x.fail(fesd.ErrPortUnavailable, req, attempt, err)
		}

		resp, err := x.read(ctx, time.Now().Add(x.cfg.Timeout))
		switch {
		case err == nil && !resp.Matches(req):
			lastErr = fmt.Errorf("%w: reply %q from slot %d does not answer %q", fesd.ErrProtocol, resp.Command, resp.Slot, req.String())
		case err == nil && !resp.OK():
			return resp, x.fail(fesd.ErrDeviceRejected, req, attempt, &fesd.DeviceError{Status: resp.Code, Detail: resp.Detail})
		case err == nil:
			return resp, nil
		case errors.Is(err, errReadTimeout),
			errors.Is(err, wire.ErrMalformed),
			errors.Is(err, wire.ErrChecksum),
			errors.Is(err, wire.ErrOverflow):
			lastErr = err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, x.fail(err, req, attempt, nil)
		default:
			return nil, x.fail(fesd.ErrPortUnavailable, req, attempt, err)
		}
		x.logger.Debug("port@exchange: retry",
			zap.String("command", req.String()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	kind := fesd.ErrProtocol
	if errors.Is(lastErr, errReadTimeout) {
		kind = fesd.ErrCommandTimeout
	}
	return nil, x.fail(kind, req, attempts, lastErr)
}

// notify writes a request that gets no reply (device reset) and keeps the
// port reserved until the device is expected to be back.
func (x *exchanger) notify(ctx context.Context, req wire.Request, settle time.Duration) error {
	defer RecordTimer(req.Command(), x.instruments)()

	if err := x.send(x.codec.EncodeRequest(req)); err != nil {
		return x.fail(fesd.ErrPortUnavailable, req, 1, err)
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return x.fail(ctx.Err(), req, 1, nil)
	case <-timer.C:
	}
	if err := x.port.ResetInputBuffer(); err != nil {
		return x.fail(fesd.ErrPortUnavailable, req, 1, err)
	}
	x.buf = x.buf[:0]
	return nil
}

func (x *exchanger) send(frame []byte) error {
	if err := x.port.ResetInputBuffer(); err != nil {
		return err
	}
	x.buf = x.buf[:0]
	_, err := x.port.Write(frame)
	return err
}

func (x *exchanger) read(ctx context.Context, deadline time.Time) (*wire.Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errReadTimeout
		}
		n, err := x.port.Read(x.chunk)
		if n > 0 {
			x.buf = append(x.buf, x.chunk[:n]...)
			resp, rest, derr := x.codec.DecodeResponse(x.buf)
			x.buf = x.buf[:copy(x.buf, rest)]
			if derr != nil {
				return nil, derr
			}
			if resp != nil {
				return resp, nil
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
}

func (x *exchanger) fail(kind error, req wire.Request, attempts int, err error) error {
	return &fesd.CommandError{
		Kind:     kind,
		Port:     x.port.Name(),
		Command:  req.Command(),
		Values:   argsString(req),
		Attempts: attempts,
		Err:      err,
	}
}

func argsString(req wire.Request) string {
	if len(req.Args) == 0 {
		return ""
	}
	return fmt.Sprint(req.Args)
}
