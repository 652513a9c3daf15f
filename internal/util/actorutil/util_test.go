package actorutil

import (
	"log/slog"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSlogLevel(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(slog.LevelDebug, slogLevel(zapcore.DebugLevel))
	assert.Equal(slog.LevelInfo, slogLevel(zapcore.InfoLevel))
	assert.Equal(slog.LevelWarn, slogLevel(zapcore.WarnLevel))
	assert.Equal(slog.LevelError, slogLevel(zapcore.FatalLevel))
	assert.Equal(slog.LevelError, slogLevel(zap.NewNop().Level()))
}

type replyProbe struct {
	got chan *actor.PID
}

func (p *replyProbe) Receive(ctx actor.Context) {
	if msg, ok := ctx.Message().(domain.DiscoverRequest); ok {
		p.got <- ForRequest(msg).ReplyTo(ctx)
	}
}

func TestForRequestReplyTo(t *testing.T) {

	require := require.New(t)

	as := NewActorSystemWithZapLogger(zap.NewNop())
	defer as.Shutdown()

	got := make(chan *actor.PID, 1)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return &replyProbe{got: got} }))

	explicit := actor.NewPID("local", "explicit")
	as.Root.Send(pid, domain.DiscoverRequest{
		ActorRequestMixIn: domain.ActorRequestMixIn{ReplyToRef: (*domain.ActorRef)(explicit)},
	})
	select {
	case reply := <-got:
		require.Equal(explicit.Id, reply.Id)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	// a future is the sender when no reference is given
	future := as.Root.RequestFuture(pid, domain.DiscoverRequest{}, 200*time.Millisecond)
	select {
	case reply := <-got:
		require.Equal(future.PID().Id, reply.Id)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}
