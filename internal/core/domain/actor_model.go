package domain

import "github.com/berfenger/fesd/pkg/fesd"

const (
	ACTOR_ID_BRIDGE = "bridge"
	ACTOR_ID_MQTT   = "mqtt"
)

// DiscoverRequest asks the bridge for a new discovery pass.
type DiscoverRequest struct {
	ActorRequestMixIn
}

type DiscoverResponse struct {
	ActorResponseMixIn
	Devices []fesd.Device
}

// CommandRequest carries a command received from the message bus.
type CommandRequest struct {
	ActorRequestMixIn
	Command FrontEndCommand
}

type CommandResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
