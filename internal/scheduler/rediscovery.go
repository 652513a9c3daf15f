package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/fesd/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const rediscoveryJobName = "rediscovery"

// RediscoveryJob asks the bridge for a discovery pass so that hot-plugged or
// removed front ends show up without a restart.
type RediscoveryJob struct {
	root    *actor.RootContext
	bridge  *actor.PID
	timeout time.Duration
	logger  *zap.Logger
}

var _ quartz.Job = (*RediscoveryJob)(nil)

func NewRediscoveryJob(root *actor.RootContext, bridge *actor.PID, timeout time.Duration, logger *zap.Logger) *RediscoveryJob {
	return &RediscoveryJob{
		root:    root,
		bridge:  bridge,
		timeout: timeout,
		logger:  logger.With(zap.String("job", rediscoveryJobName)),
	}
}

func (j *RediscoveryJob) Execute(ctx context.Context) error {
	future := j.root.RequestFuture(j.bridge, domain.DiscoverRequest{}, j.timeout)
	done := make(chan error, 1)
	var devices int
	go func() {
		res, err := future.Result()
		if err == nil {
			resp, ok := res.(domain.DiscoverResponse)
			if !ok {
				err = fmt.Errorf("unexpected response %T", res)
			} else {
				err = resp.GetResponseError()
				devices = len(resp.Devices)
			}
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			j.logger.Warn("rediscovery failed", zap.Error(err))
			return err
		}
		j.logger.Debug("rediscovery done", zap.Int("devices", devices))
		return nil
	}
}

func (j *RediscoveryJob) Description() string {
	return rediscoveryJobName
}

// Start schedules job every interval on a new scheduler. The scheduler runs
// until ctx is done or Stop is called.
func Start(ctx context.Context, interval time.Duration, job quartz.Job) (quartz.Scheduler, error) {
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	sched.Start(ctx)
	detail := quartz.NewJobDetail(job, quartz.NewJobKey(job.Description()))
	if err := sched.ScheduleJob(detail, quartz.NewSimpleTrigger(interval)); err != nil {
		sched.Stop()
		return nil, err
	}
	return sched, nil
}
