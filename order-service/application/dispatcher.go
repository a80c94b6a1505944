package application

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher hands outbound commands to the message bus.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd messaging.Command) error
}

// CommandDispatcher publishes commands on the topic of their target service,
// keyed by order id, retrying transient publish failures with bounded
// exponential backoff. An exhausted retry budget surfaces as an error so the
// triggering event stays unacknowledged and is redelivered.
type CommandDispatcher struct {
	publisher messaging.CommandPublisher
	attempts  uint
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger
}

// NewCommandDispatcher creates a dispatcher with the given retry budget.
func NewCommandDispatcher(publisher messaging.CommandPublisher, attempts uint, baseDelay time.Duration, logger zerolog.Logger) *CommandDispatcher {
	if attempts == 0 {
		attempts = 1
	}
	return &CommandDispatcher{
		publisher: publisher,
		attempts:  attempts,
		baseDelay: baseDelay,
		maxDelay:  30 * time.Second,
		logger:    logger,
	}
}

// Dispatch publishes the command. Commands are transient: they are never
// persisted, only pushed to the bus.
func (d *CommandDispatcher) Dispatch(ctx context.Context, cmd messaging.Command) error {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.dispatch")
	defer span.End()

	topic, ok := messaging.CommandTopic(cmd.CommandType())
	if !ok {
		return errors.Errorf("no topic for command type %s", cmd.CommandType())
	}

	payload, err := messaging.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			return d.publisher.Publish(ctx, topic, cmd.PartitionKey(), payload)
		},
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.baseDelay),
		retry.MaxDelay(d.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn().
				Str("command", string(cmd.CommandType())).
				Str("order_id", cmd.PartitionKey()).
				Uint("attempt", n+1).
				Err(err).
				Msg("command publish failed, retrying")
		}),
	)
	if err != nil {
		telemetry.RecordCounter(ctx, "saga_command_publish_failures_total",
			"Commands that exhausted their publish retry budget", 1,
			attribute.String("command", string(cmd.CommandType())))
		return errors.Wrapf(err, "failed to publish %s for order %s", cmd.CommandType(), cmd.PartitionKey())
	}

	telemetry.RecordCounter(ctx, "saga_commands_dispatched_total",
		"Commands handed to the message bus", 1,
		attribute.String("command", string(cmd.CommandType())),
		attribute.String("topic", topic.String()))

	return nil
}
