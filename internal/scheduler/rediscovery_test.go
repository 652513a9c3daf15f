package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/pkg/fesd"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBridge struct {
	calls *atomic.Int32
	err   error
}

func (f *fakeBridge) Receive(ctx actor.Context) {
	if _, ok := ctx.Message().(domain.DiscoverRequest); ok {
		f.calls.Add(1)
		ctx.Respond(domain.DiscoverResponse{
			ActorResponseMixIn: domain.ErrorResponse(f.err),
			Devices:            []fesd.Device{{SerialNumber: "1A2B3C4D"}},
		})
	}
}

func spawnBridge(t *testing.T, err error) (*actor.ActorSystem, *actor.PID, *atomic.Int32) {
	as := actor.NewActorSystem()
	calls := &atomic.Int32{}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return &fakeBridge{calls: calls, err: err}
	}))
	t.Cleanup(as.Shutdown)
	return as, pid, calls
}

func TestRediscoveryJobExecute(t *testing.T) {

	require := require.New(t)

	as, pid, calls := spawnBridge(t, nil)
	job := NewRediscoveryJob(as.Root, pid, time.Second, zap.NewNop())
	require.NoError(job.Execute(context.Background()))
	require.Equal(int32(1), calls.Load())
	require.Equal("rediscovery", job.Description())

	as, pid, _ = spawnBridge(t, fesd.ErrDiscovery)
	job = NewRediscoveryJob(as.Root, pid, time.Second, zap.NewNop())
	require.ErrorIs(job.Execute(context.Background()), fesd.ErrDiscovery)
}

func TestRediscoveryJobCanceled(t *testing.T) {

	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	// never answers
	pid := as.Root.Spawn(actor.PropsFromFunc(func(actor.Context) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRediscoveryJob(as.Root, pid, time.Second, zap.NewNop()).Execute(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartSchedulesPeriodically(t *testing.T) {

	as, pid, calls := spawnBridge(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched, err := Start(ctx, 50*time.Millisecond, NewRediscoveryJob(as.Root, pid, time.Second, zap.NewNop()))
	require.NoError(t, err)
	defer sched.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
