package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/internal/core/domain"
)

type forRequest struct {
	req domain.ActorRequest
}

// ExtendedRequest resolves where the answer to a request goes: its explicit
// ReplyTo reference, or else the sender. Requests answered asynchronously
// capture the PID before the sender is gone.
type ExtendedRequest interface {
	ReplyTo(ctx actor.Context) *actor.PID
}

func ForRequest(r domain.ActorRequest) ExtendedRequest {
	return forRequest{req: r}
}

func (r forRequest) ReplyTo(ctx actor.Context) *actor.PID {
	if r.req.ReplyTo() != nil {
		return (*actor.PID)(r.req.ReplyTo())
	}
	return ctx.Sender()
}
