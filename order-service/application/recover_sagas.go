package application

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RecoverInFlightSagas is the startup sweep. The store is the system of
// record: after a restart every non-terminal saga is reloaded and the command
// its current state is waiting on is re-announced. Downstream consumers are
// idempotent per order id, so a duplicate announcement is harmless.
type RecoverInFlightSagas struct {
	sagas      domain.SagaRepository
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewRecoverInFlightSagas creates the recovery sweep.
func NewRecoverInFlightSagas(sagas domain.SagaRepository, dispatcher Dispatcher, logger zerolog.Logger) *RecoverInFlightSagas {
	return &RecoverInFlightSagas{
		sagas:      sagas,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute re-dispatches the pending command of every non-terminal saga.
// Failures are isolated per order: one stuck saga never blocks recovery of
// the rest.
func (uc *RecoverInFlightSagas) Execute(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.recover_sagas")
	defer span.End()

	unfinished, err := uc.sagas.FindUnfinished(ctx, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to list unfinished sagas")
	}

	recovered := 0
	for _, saga := range unfinished {
		cmd, ok := domain.CommandForState(saga)
		if !ok {
			continue
		}

		if err := uc.dispatcher.Dispatch(ctx, cmd); err != nil {
			uc.logger.Error().
				Str("order_id", saga.OrderID.String()).
				Str("state", saga.State.String()).
				Err(err).
				Msg("failed to re-announce pending command")
			continue
		}
		recovered++
	}

	uc.logger.Info().
		Int("unfinished", len(unfinished)).
		Int("reannounced", recovered).
		Msg("recovery sweep finished")
	telemetry.RecordCounter(ctx, "saga_recovered_total",
		"Pending commands re-announced on startup", int64(recovered))

	return nil
}
