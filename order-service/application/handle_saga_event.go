package application

import (
	"context"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// HandleSagaEvent is the orchestrator core: the control loop that receives a
// correlated event, consults the saga definition, persists the new snapshot
// and dispatches the resulting command.
//
// Side effect ordering is deliberate: the snapshot is persisted before the
// command is published. A crash between the two steps leaves the saga state
// honestly reflecting that the step has not been announced downstream, and
// the recovery sweep re-publishes the pending command. That may
// double-publish, which is acceptable under at-least-once delivery; it never
// double-mutates state.
type HandleSagaEvent struct {
	sagas      domain.SagaRepository
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewHandleSagaEvent creates the orchestrator core use case.
func NewHandleSagaEvent(sagas domain.SagaRepository, dispatcher Dispatcher, logger zerolog.Logger) *HandleSagaEvent {
	return &HandleSagaEvent{
		sagas:      sagas,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute applies one inbound event to the saga it correlates to. A nil
// return means the event is fully handled (including the duplicate and
// unknown-saga no-op paths) and may be acknowledged; an error means the event
// must be redelivered.
func (uc *HandleSagaEvent) Execute(ctx context.Context, event *messaging.SagaEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.handle_event")
	defer span.End()

	if event.OrderID == "" {
		uc.logger.Warn().Str("kind", string(event.Kind)).Msg("discarding event without order id")
		return nil
	}

	orderID := models.ID(event.OrderID)
	span.SetAttributes(
		attribute.String("order_id", event.OrderID),
		attribute.String("event_kind", string(event.Kind)),
	)

	saga, err := uc.sagas.Load(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrSagaNotFound) {
			// Defends against events for sagas this instance never started
			// or that were already archived.
			uc.logger.Warn().
				Str("order_id", event.OrderID).
				Str("kind", string(event.Kind)).
				Msg("discarding event for unknown saga")
			telemetry.RecordCounter(ctx, "saga_unknown_events_total",
				"Events correlated to no stored saga", 1)
			return nil
		}
		return errors.Wrap(err, "failed to load saga")
	}

	applied, err := uc.applyOnce(ctx, saga, event)
	if errors.Is(err, domain.ErrVersionConflict) {
		// A concurrent writer raced this saga: reload, recompute the
		// transition and retry once. Repeated conflicts are contention; the
		// event is requeued.
		saga, err = uc.sagas.Load(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "failed to reload saga after version conflict")
		}
		applied, err = uc.applyOnce(ctx, saga, event)
		if errors.Is(err, domain.ErrVersionConflict) {
			telemetry.RecordCounter(ctx, "saga_persist_conflicts_total",
				"Transitions abandoned to contention", 1)
			return errors.Wrapf(err, "repeated contention on order %s", event.OrderID)
		}
	}
	if err != nil {
		return err
	}

	if !applied.Changed {
		// No rule for (state, event): duplicate or out-of-order delivery,
		// absorbed without error.
		uc.logger.Warn().
			Str("order_id", event.OrderID).
			Str("kind", string(event.Kind)).
			Str("state", saga.State.String()).
			Msg("no transition for event, discarding as duplicate or stale")
		telemetry.RecordCounter(ctx, "saga_noop_events_total",
			"Events with no matching transition rule", 1,
			attribute.String("state", saga.State.String()))
		return nil
	}

	telemetry.RecordCounter(ctx, "saga_transitions_total",
		"Applied saga transitions", 1,
		attribute.String("to_state", saga.State.String()))

	if saga.IsTerminal() {
		uc.logger.Info().
			Str("order_id", event.OrderID).
			Str("state", saga.State.String()).
			Msg("saga reached terminal state")
	}

	if applied.Command == nil {
		return nil
	}

	// Publish strictly after the persist above succeeded. On failure the
	// event is redelivered; the redelivery will no-op against the advanced
	// state and the stalled-saga sweep re-announces the command.
	if err := uc.dispatcher.Dispatch(ctx, applied.Command); err != nil {
		return errors.Wrap(err, "transition persisted but command not announced")
	}

	return nil
}

// applyOnce computes and persists a single transition attempt against the
// given snapshot.
func (uc *HandleSagaEvent) applyOnce(ctx context.Context, saga *domain.OrderSaga, event *messaging.SagaEvent) (domain.ApplyResult, error) {
	expected := saga.Version.Value

	result, err := domain.Apply(saga, event)
	if err != nil {
		// The action failed while building the command: the transition is
		// not recorded, the stored state and version stand for a safe retry.
		return domain.ApplyResult{}, errors.Wrap(err, "transition aborted")
	}
	if !result.Changed {
		return result, nil
	}

	if err := uc.sagas.Save(ctx, saga, expected); err != nil {
		return domain.ApplyResult{}, err
	}

	return result, nil
}
