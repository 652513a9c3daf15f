package actor

import (
	"context"
	"fmt"
	"time"

	adactor "github.com/berfenger/fesd/internal/adapter/actor"
	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/core/port"
	. "github.com/berfenger/fesd/internal/util/actorutil"
	"github.com/berfenger/fesd/pkg/fesd"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const (
	commandTimeout     = 30 * time.Second
	healthCheckTimeout = 500 * time.Millisecond
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// BridgeActor owns the front end service on behalf of the process: it runs
// discovery passes one at a time, executes commands arriving from the
// message bus and reports health.
type BridgeActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	service           port.FrontEndService
	eventStream       *eventstream.EventStream
	mqttActor         *actor.PID
	mqttActorProvider MQTTActorProvider
	logger            *zap.Logger

	discovering      bool
	discoveryWaiters []*actor.PID
	lastDiscovery    discoveryDone

	healthRespondTo *actor.PID
}

type discoveryDone struct {
	Devices []fesd.Device
	Err     error
	At      time.Time
}

type commandDone struct {
	Command domain.FrontEndCommand
	ReplyTo *actor.PID
	Err     error
}

// NewBridgeActor builds the bridge. mqttActorProvider may be nil when no
// broker is configured.
func NewBridgeActor(config config.Config, service port.FrontEndService, eventStream *eventstream.EventStream,
	mqttActorProvider MQTTActorProvider, logger *zap.Logger) *BridgeActor {
	act := &BridgeActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		service:           service,
		eventStream:       eventStream,
		mqttActorProvider: mqttActorProvider,
		logger:            ActorLogger(domain.ACTOR_ID_BRIDGE, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *BridgeActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BridgeActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("bridge@default started")
		if state.mqttActorProvider != nil {
			pid, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = pid
		}
		state.startDiscovery(ctx, nil)
	case domain.DiscoverRequest:
		state.logger.Debug("bridge@default DiscoverRequest")
		state.startDiscovery(ctx, ForRequest(msg).ReplyTo(ctx))
	case discoveryDone:
		state.discovering = false
		state.lastDiscovery = msg
		if msg.Err != nil {
			state.logger.Warn("bridge@default discovery failed", zap.Error(msg.Err))
		} else {
			state.logger.Info("bridge@default discovery done", zap.Int("devices", len(msg.Devices)))
		}
		resp := domain.DiscoverResponse{ActorResponseMixIn: domain.ErrorResponse(msg.Err), Devices: msg.Devices}
		for _, pid := range state.discoveryWaiters {
			ctx.Send(pid, resp)
		}
		state.discoveryWaiters = nil
	case domain.CommandRequest:
		state.logger.Debug("bridge@default CommandRequest", zap.String("command", fmt.Sprintf("%T", msg.Command)))
		state.execute(ctx, msg.Command, ForRequest(msg).ReplyTo(ctx))
	case commandDone:
		if msg.Err != nil {
			serial, path := msg.Command.Target()
			state.logger.Warn("bridge@default command failed", zap.String("serial", serial),
				zap.Stringer("path", path), zap.Error(msg.Err))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.CommandResponse{ActorResponseMixIn: domain.ErrorResponse(msg.Err)})
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("bridge@default ActorHealthRequest")
		state.healthRespondTo = ctx.Sender()
		if state.mqttActor == nil {
			state.respondHealth(ctx, true)
			return
		}
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, healthCheckTimeout), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		ctx.SetReceiveTimeout(2 * healthCheckTimeout)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case *actor.Terminated:
		state.logger.Warn("bridge@default child terminated", zap.String("who", msg.Who.Id))
	default:
		state.logger.Debug("bridge@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BridgeActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
		state.respondHealth(ctx, false)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("bridge@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		ctx.CancelReceiveTimeout()
		state.respondHealth(ctx, msg.Healthy)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("bridge@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeActor) respondHealth(ctx actor.Context, mqttHealthy bool) {
	discoveryHealthy := state.lastDiscovery.At.IsZero() || state.lastDiscovery.Err == nil
	status := "idle"
	if state.discovering {
		status = "discovering"
	}
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_BRIDGE,
		Healthy: mqttHealthy && discoveryHealthy,
		State:   status,
	}
	if state.healthRespondTo != nil {
		ctx.Send(state.healthRespondTo, resp)
		state.healthRespondTo = nil
	}
}

func (state *BridgeActor) startDiscovery(ctx actor.Context, replyTo *actor.PID) {
	if replyTo != nil {
		state.discoveryWaiters = append(state.discoveryWaiters, replyTo)
	}
	if state.discovering {
		return
	}
	state.discovering = true
	window := state.config.Discovery.Window
	if window <= 0 {
		window = 30 * time.Second
	}
	NewBackgroundTask(ctx, func(c context.Context) (*discoveryDone, error) {
		devices, err := state.service.Devices(c, true)
		return &discoveryDone{Devices: devices, Err: err, At: time.Now()}, nil
	}).WithTimeout(window + 5*time.Second).Recover(func(err error) discoveryDone {
		return discoveryDone{Err: err, At: time.Now()}
	}).PipeTo(ctx.Self())
}

func (state *BridgeActor) execute(ctx actor.Context, cmd domain.FrontEndCommand, replyTo *actor.PID) {
	NewBackgroundTask(ctx, func(c context.Context) (*commandDone, error) {
		err := state.service.Execute(c, cmd)
		return &commandDone{Command: cmd, ReplyTo: replyTo, Err: err}, nil
	}).WithTimeout(commandTimeout).Recover(func(err error) commandDone {
		return commandDone{Command: cmd, ReplyTo: replyTo, Err: err}
	}).PipeTo(ctx.Self())
}

func (state *BridgeActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}
