package application

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// TimeoutPolicy decides what the watchdog does with a stalled saga.
type TimeoutPolicy string

const (
	// TimeoutPolicyAlert only raises an operational alert.
	TimeoutPolicyAlert TimeoutPolicy = "alert"
	// TimeoutPolicyCompensate forces the saga onto its compensation path.
	TimeoutPolicyCompensate TimeoutPolicy = "compensate"
)

// SweepStalledSagas is the watchdog. The transport offers no delivery
// deadline, so a downstream acknowledgment may simply never arrive; this
// sweep periodically scans non-terminal sagas whose last update exceeds the
// configured SLA and applies the configured policy.
type SweepStalledSagas struct {
	sagas      domain.SagaRepository
	dispatcher Dispatcher
	policy     TimeoutPolicy
	sla        time.Duration
	logger     zerolog.Logger
}

// NewSweepStalledSagas creates the watchdog sweep.
func NewSweepStalledSagas(sagas domain.SagaRepository, dispatcher Dispatcher, policy TimeoutPolicy, sla time.Duration, logger zerolog.Logger) *SweepStalledSagas {
	if policy == "" {
		policy = TimeoutPolicyAlert
	}
	return &SweepStalledSagas{
		sagas:      sagas,
		dispatcher: dispatcher,
		policy:     policy,
		sla:        sla,
		logger:     logger,
	}
}

// Execute runs one sweep. Faults stay isolated to the single order they
// concern.
func (uc *SweepStalledSagas) Execute(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.sweep_stalled")
	defer span.End()

	cutoff := time.Now().UTC().Add(-uc.sla)
	stalled, err := uc.sagas.FindUnfinished(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "failed to list stalled sagas")
	}

	for _, saga := range stalled {
		uc.logger.Warn().
			Str("order_id", saga.OrderID.String()).
			Str("state", saga.State.String()).
			Time("updated_at", saga.Timestamps.UpdatedAt).
			Str("policy", string(uc.policy)).
			Msg("saga exceeded processing SLA")
		telemetry.RecordCounter(ctx, "saga_timeouts_total",
			"Sagas stalled past the configured SLA", 1,
			attribute.String("state", saga.State.String()),
			attribute.String("policy", string(uc.policy)))

		if uc.policy != TimeoutPolicyCompensate {
			continue
		}

		if err := uc.compensate(ctx, saga); err != nil {
			uc.logger.Error().
				Str("order_id", saga.OrderID.String()).
				Err(err).
				Msg("failed to force-compensate stalled saga")
		}
	}

	return nil
}

func (uc *SweepStalledSagas) compensate(ctx context.Context, saga *domain.OrderSaga) error {
	expected := saga.Version.Value

	result, err := domain.ForceTimeout(saga)
	if err != nil {
		return err
	}

	if result.Changed {
		if err := uc.sagas.Save(ctx, saga, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				// A real event progressed this saga between the scan and the
				// write; the timeout no longer applies.
				return nil
			}
			return err
		}
	}

	if result.Command == nil {
		return nil
	}
	return uc.dispatcher.Dispatch(ctx, result.Command)
}
