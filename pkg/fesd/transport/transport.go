package transport

import (
	"context"
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"go.uber.org/zap"
)

// futureSlack is added to a caller deadline so the actor can report the
// cancelled exchange itself before the future gives up.
const futureSlack = time.Second

// Transport is the handle to one open port and the actor that owns it.
type Transport struct {
	name string
	root *actor.RootContext
	pid  *actor.PID
	cfg  ExchangeConfig
}

type Options struct {
	Codec       wire.Codec
	Exchange    ExchangeConfig
	Logger      *zap.Logger
	Instruments []Instrument
}

// Open opens the named port and spawns its actor on system.
func Open(system *actor.ActorSystem, opener Opener, name string, opts Options) (*Transport, error) {
	port, err := opener.Open(name)
	if err != nil {
		return nil, &fesd.CommandError{Kind: fesd.ErrPortUnavailable, Port: name, Err: err}
	}
	return Attach(system, port, opts), nil
}

// Attach spawns the actor for a port that is already open.
func Attach(system *actor.ActorSystem, port Port, opts Options) *Transport {
	if opts.Codec == nil {
		opts.Codec = wire.NewConsoleCodec()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Exchange.withDefaults()

	x := newExchanger(port, opts.Codec, cfg, opts.Logger, opts.Instruments)
	props := actor.PropsFromProducer(func() actor.Actor {
		return newPortActor(x, opts.Logger)
	})
	return &Transport{
		name: port.Name(),
		root: system.Root,
		pid:  system.Root.Spawn(props),
		cfg:  cfg,
	}
}

func (t *Transport) Name() string {
	return t.name
}

// Exchange sends req and waits for the matching response. Requests queue
// behind the exchange in progress on the same port.
func (t *Transport) Exchange(ctx context.Context, req wire.Request) (*wire.Response, error) {
	return t.request(ctx, &exchangeRequest{req: req})
}

// Notify sends req without expecting a reply and holds the port for settle.
func (t *Transport) Notify(ctx context.Context, req wire.Request, settle time.Duration) error {
	if settle < 0 {
		settle = t.cfg.SettleTime
	}
	_, err := t.request(ctx, &exchangeRequest{req: req, notify: true, settle: settle})
	return err
}

func (t *Transport) SettleTime() time.Duration {
	return t.cfg.SettleTime
}

func (t *Transport) request(ctx context.Context, msg *exchangeRequest) (*wire.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msg.ctx = ctx

	timeout := t.cfg.QueueTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline) + futureSlack
	}
	if timeout <= 0 {
		return nil, t.fail(context.DeadlineExceeded, msg.req, nil)
	}

	future := t.root.RequestFuture(t.pid, msg, timeout)
	done := make(chan exchangeResult, 1)
	go func() {
		res, err := future.Result()
		if err != nil {
			done <- exchangeResult{err: err}
			return
		}
		if r, ok := res.(*exchangeResult); ok {
			done <- *r
			return
		}
		done <- exchangeResult{err: errors.New("unexpected reply from port actor")}
	}()

	select {
	case <-ctx.Done():
		return nil, t.fail(ctx.Err(), msg.req, nil)
	case r := <-done:
		switch {
		case errors.Is(r.err, actor.ErrTimeout):
			return nil, t.fail(fesd.ErrCommandTimeout, msg.req, r.err)
		case errors.Is(r.err, actor.ErrDeadLetter):
			return nil, t.fail(fesd.ErrSessionClosed, msg.req, nil)
		}
		return r.resp, r.err
	}
}

func (t *Transport) fail(kind error, req wire.Request, err error) error {
	return &fesd.CommandError{Kind: kind, Port: t.name, Command: req.Command(), Err: err}
}

// Close stops the actor once the exchange in progress has finished and
// closes the port.
func (t *Transport) Close() error {
	return t.root.StopFuture(t.pid).Wait()
}
