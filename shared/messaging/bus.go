package messaging

import "context"

// CommandPublisher publishes an encoded command envelope on a topic. The key
// is the partition/ordering key; the transport preserves order only within
// the same key.
type CommandPublisher interface {
	Publish(ctx context.Context, topic Topic, key string, payload []byte) error
}

// EventHandler consumes decoded saga events delivered at-least-once. A nil
// return acknowledges the message; an error leaves it on the queue for
// redelivery.
type EventHandler interface {
	HandlerID() string
	Handle(ctx context.Context, event *SagaEvent) error
}

// DeadLetterSink receives payloads that cannot be processed, isolating them
// from the normal flow.
type DeadLetterSink interface {
	Sink(ctx context.Context, reason string, payload []byte) error
}
