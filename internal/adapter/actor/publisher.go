package actor

import (
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/core/port"
)

// EventStreamPublisher hands front end events to the actor event stream.
type EventStreamPublisher struct {
	stream *eventstream.EventStream
}

func NewEventStreamPublisher(stream *eventstream.EventStream) *EventStreamPublisher {
	return &EventStreamPublisher{stream: stream}
}

func (p *EventStreamPublisher) Publish(event domain.FrontEndEvent) {
	p.stream.Publish(event)
}

// ensure interface compliance
var _ port.EventPublisher = (*EventStreamPublisher)(nil)
