package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/mqtt"
	"github.com/berfenger/fesd/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor mirrors front end events onto the broker and turns command
// messages into CommandRequests for its parent.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type OnEventStreamMessage struct {
	Event domain.FrontEndEvent
}

type rawMessage struct {
	topic   string
	message []byte
	retain  bool
}

type gainState struct {
	GainDb float64 `json:"gain_db"`
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		state.subscribeEventStream(ctx)

		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// let the supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		cmd, err := msg.Command.ToFrontEndCommand()
		if err != nil {
			state.logger.Warn("mqtt@default invalid command", zap.Error(err))
			return
		}
		ctx.Send(ctx.Parent(), domain.CommandRequest{Command: cmd})
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publish(ctx, rawMessage{topic: msg.Topic, message: []byte(msg.Payload), retain: msg.Retain},
			actorutil.ForRequest(msg).ReplyTo(ctx))
	case OnEventStreamMessage:
		state.logger.Debug("mqtt@default event", zap.String("event", msg.Event.EventName()))
		state.publishEvent(ctx, msg.Event)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	if state.eventStream == nil || state.eventStreamSub != nil {
		return
	}
	// the callback runs on the publisher goroutine
	root, self := ctx.ActorSystem().Root, ctx.Self()
	state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
		if event, ok := value.(domain.FrontEndEvent); ok {
			root.Send(self, OnEventStreamMessage{Event: event})
		}
	})
}

// event2MQTTMessages renders an event as the retained messages that
// describe the new state.
func (state *MQTTActor) event2MQTTMessages(event domain.FrontEndEvent) ([]rawMessage, error) {
	switch e := event.(type) {
	case domain.InventoryUpdateEvent:
		payload, err := json.Marshal(e.Devices)
		if err != nil {
			return nil, err
		}
		msgs := []rawMessage{{topic: state.client.InventoryTopic(), message: payload, retain: true}}
		if state.config.MQTT.HADiscoveryEnable {
			for _, d := range e.Devices {
				for _, entity := range mqtt.HADiscoveryEntities(state.client, state.config.MQTT.HADiscoveryTopic, d) {
					cfg, err := json.Marshal(entity.Config)
					if err != nil {
						return nil, err
					}
					msgs = append(msgs, rawMessage{topic: entity.Topic, message: cfg, retain: true})
				}
			}
		}
		return msgs, nil
	case domain.FrequenciesAppliedEvent:
		payload, err := json.Marshal(e.Frequencies)
		if err != nil {
			return nil, err
		}
		return []rawMessage{{
			topic:   state.client.DeviceStateTopic(e.Serial, e.Path, mqtt.COMMAND_FREQUENCIES),
			message: payload,
			retain:  true,
		}}, nil
	case domain.GainAppliedEvent:
		payload, err := json.Marshal(gainState{GainDb: e.GainDb})
		if err != nil {
			return nil, err
		}
		return []rawMessage{{
			topic:   state.client.DeviceStateTopic(e.Serial, e.Path, mqtt.COMMAND_GAIN),
			message: payload,
			retain:  true,
		}}, nil
	case domain.BridgeStateUpdateEvent:
		payload := mqtt.MQTT_PAYLOAD_OFFLINE
		if e.Online {
			payload = mqtt.MQTT_PAYLOAD_ONLINE
		}
		return []rawMessage{{topic: state.client.BridgeStateTopic(), message: []byte(payload), retain: true}}, nil
	}
	return nil, nil
}

func (state *MQTTActor) publishEvent(ctx actor.Context, event domain.FrontEndEvent) {
	msgs, err := state.event2MQTTMessages(event)
	if err != nil {
		state.logger.Error("mqtt@publish: could not encode event", zap.String("event", event.EventName()), zap.Error(err))
		return
	}
	for _, msg := range msgs {
		state.publish(ctx, msg, nil)
	}
}

func (state *MQTTActor) publish(ctx actor.Context, msg rawMessage, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", msg.topic, msg.message)
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.client.Publish(msg.topic, msg.message, 1, msg.retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishResultReceive)
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ErrorResponse(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// NewTestMQTTActor answers like a connected MQTT actor without a broker.
// Rendered messages go to sink.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, sink chan<- PublishedMessage, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(func(ctx actor.Context) { act.DummyReceive(ctx, sink) })
	return act
}

type PublishedMessage struct {
	Topic   string
	Payload string
	Retain  bool
}

func (state *MQTTActor) DummyReceive(ctx actor.Context, sink chan<- PublishedMessage) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribeEventStream(ctx)
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		cmd, err := msg.Command.ToFrontEndCommand()
		if err == nil {
			ctx.Send(ctx.Parent(), domain.CommandRequest{Command: cmd})
		}
	case OnEventStreamMessage:
		msgs, err := state.event2MQTTMessages(msg.Event)
		if err != nil {
			return
		}
		for _, m := range msgs {
			sink <- PublishedMessage{Topic: m.topic, Payload: string(m.message), Retain: m.retain}
		}
	case domain.PublishMessageRequest:
		sink <- PublishedMessage{Topic: msg.Topic, Payload: msg.Payload, Retain: msg.Retain}
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.PublishMessageResponse{})
		}
	}
}
