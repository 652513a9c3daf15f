package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
	"go.uber.org/zap"
)

type exchangeRequest struct {
	ctx    context.Context
	req    wire.Request
	notify bool
	settle time.Duration
}

type exchangeResult struct {
	resp *wire.Response
	err  error
}

// PortActor owns one port. Its mailbox is the port's queue: exchanges run one
// at a time, in arrival order, and nothing else touches the port.
type PortActor struct {
	behavior  actor.Behavior
	exchanger *exchanger
	name      string
	logger    *zap.Logger
}

func newPortActor(x *exchanger, logger *zap.Logger) *PortActor {
	act := &PortActor{
		behavior:  actor.NewBehavior(),
		exchanger: x,
		name:      x.port.Name(),
		logger:    logger.With(zap.String("actor", "port"), zap.String("port", x.port.Name())),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PortActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *PortActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("port@default: started")
	case *exchangeRequest:
		if err := msg.ctx.Err(); err != nil {
			// the caller gave up while the request was queued
			ctx.Respond(&exchangeResult{err: state.exchanger.fail(err, msg.req, 0, nil)})
			return
		}
		if msg.notify {
			state.logger.Debug("port@default: notify", zap.String("command", msg.req.String()))
			ctx.Respond(&exchangeResult{err: state.exchanger.notify(msg.ctx, msg.req, msg.settle)})
			return
		}
		state.logger.Debug("port@default: exchange", zap.String("command", msg.req.String()))
		resp, err := state.exchanger.exchange(msg.ctx, msg.req)
		if err != nil {
			state.logger.Debug("port@default: exchange failed", zap.String("command", msg.req.String()), zap.Error(err))
		}
		ctx.Respond(&exchangeResult{resp: resp, err: err})
	case *actor.Stopping:
		state.closePort()
		state.behavior.Become(state.ClosedReceive)
	case *actor.Restarting:
		state.logger.Warn("port@default: restarting")
	default:
		state.logger.Debug("port@default: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PortActor) ClosedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *exchangeRequest:
		ctx.Respond(&exchangeResult{err: state.exchanger.fail(fesd.ErrSessionClosed, msg.req, 0, nil)})
	default:
		state.logger.Debug("port@closed: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PortActor) closePort() {
	state.logger.Debug("port@default: closing")
	if err := state.exchanger.port.Close(); err != nil {
		state.logger.Warn("port@default: close failed", zap.Error(err))
	}
}
