package simulator

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// Serve answers requests arriving on rw as the devices of the bus would,
// until ctx is done or rw fails. rw is the device side of a real serial
// line; its Read must return periodically so cancellation is noticed.
func (b *Bus) Serve(ctx context.Context, rw io.ReadWriter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("bus", b.name))
	chunk := make([]byte, 256)
	var in []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := rw.Read(chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			continue
		}
		in = append(in, chunk[:n]...)
		for {
			req, rest, derr := b.codec.DecodeRequest(in)
			in = append(in[:0], rest...)
			if derr != nil {
				logger.Debug("simulator@serve: dropped frame", zap.Error(derr))
				continue
			}
			if req == nil {
				break
			}
			logger.Debug("simulator@serve: request", zap.String("command", req.String()))
			frame, latency := b.respond(*req)
			if frame == nil {
				continue
			}
			if latency > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(latency):
				}
			}
			if _, err := rw.Write(frame); err != nil {
				return err
			}
		}
	}
}
