package handlers

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/order-service/application"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SagaEventHandlers is the subscriber-facing fan-in. It filters the inbound
// stream down to the closed set of saga events and forwards them to the
// orchestrator core; the switch below is the single place a new event kind
// must be added.
type SagaEventHandlers struct {
	handleSagaEvent *application.HandleSagaEvent
	logger          zerolog.Logger
}

// NewSagaEventHandlers creates the event fan-in.
func NewSagaEventHandlers(handleSagaEvent *application.HandleSagaEvent, logger zerolog.Logger) *SagaEventHandlers {
	return &SagaEventHandlers{
		handleSagaEvent: handleSagaEvent,
		logger:          logger,
	}
}

// HandlerID implements messaging.EventHandler.
func (h *SagaEventHandlers) HandlerID() string {
	return "order-saga-event-handler"
}

// Handle implements messaging.EventHandler.
func (h *SagaEventHandlers) Handle(ctx context.Context, event *messaging.SagaEvent) error {
	start := time.Now()

	switch event.Kind {
	case messaging.KindPaymentProcessed,
		messaging.KindPaymentRefunded,
		messaging.KindInventoryReserved,
		messaging.KindInventoryReleased,
		messaging.KindShipmentCreated:
		err := h.handleSagaEvent.Execute(ctx, event)
		telemetry.RecordHistogram(ctx, "saga_event_handling_seconds",
			"Time spent applying one saga event", time.Since(start).Seconds(),
			attribute.String("kind", string(event.Kind)))
		return err
	default:
		// The decoder only admits known kinds; anything else here means the
		// wire union grew without this switch keeping up.
		h.logger.Warn().Str("kind", string(event.Kind)).Msg("ignoring unhandled event kind")
		return nil
	}
}
