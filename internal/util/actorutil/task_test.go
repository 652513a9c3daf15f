package actorutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type taskResult struct {
	value string
	err   error
}

// taskActor starts a background task for every string it receives and
// forwards the outcome to the probe.
type taskActor struct {
	probe   chan taskResult
	timeout time.Duration
}

func (a *taskActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case string:
		NewBackgroundTask(ctx, func(c context.Context) (*taskResult, error) {
			switch msg {
			case "fail":
				return nil, errors.New("boom")
			case "slow":
				<-c.Done()
				return nil, c.Err()
			}
			return &taskResult{value: msg}, nil
		}).WithTimeout(a.timeout).Recover(func(err error) taskResult {
			return taskResult{err: err}
		}).PipeTo(ctx.Self())
	case taskResult:
		a.probe <- msg
	}
}

func TestBackgroundTaskPipeTo(t *testing.T) {

	require := require.New(t)

	as := NewActorSystemWithZapLogger(zap.NewNop())
	defer as.Shutdown()

	probe := make(chan taskResult, 3)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return &taskActor{probe: probe, timeout: 100 * time.Millisecond}
	}))

	as.Root.Send(pid, "hello")
	r := <-probe
	require.Equal("hello", r.value)

	as.Root.Send(pid, "fail")
	r = <-probe
	require.EqualError(r.err, "boom")

	as.Root.Send(pid, "slow")
	select {
	case r = <-probe:
		require.Error(r.err)
	case <-time.After(2 * time.Second):
		t.Fatal("slow task was not abandoned")
	}
}

func TestBackgroundTaskRunOnError(t *testing.T) {

	var got error
	task := &SafeBackgroundTask[int]{
		fn: func(context.Context) (*int, error) { return nil, nil },
	}
	task.OnError(func(err error) { got = err }).OnSuccess(func(int) {
		t.Error("nil result must not succeed")
	}).Run()
	assert.EqualError(t, got, "result is nil")
}
