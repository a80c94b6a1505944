package application

import (
	"context"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// StartOrderCommand represents an order-creation request from the ingress.
type StartOrderCommand struct {
	CustomerID string             `json:"customerId"`
	Amount     int64              `json:"amount"`
	Currency   string             `json:"currency"`
	Items      []models.OrderItem `json:"items"`
}

// StartOrderResponse is returned to the ingress immediately; the saga
// completes asynchronously.
type StartOrderResponse struct {
	OrderID string `json:"orderId"`
}

// StartOrder creates a saga for a new order and issues its first command.
type StartOrder struct {
	sagas      domain.SagaRepository
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewStartOrder creates the StartOrder use case.
func NewStartOrder(sagas domain.SagaRepository, dispatcher Dispatcher, logger zerolog.Logger) *StartOrder {
	return &StartOrder{
		sagas:      sagas,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute validates the request, persists the saga in PENDING, applies the
// StartOrder transition and dispatches ProcessPayment. It does not wait for
// saga completion.
func (uc *StartOrder) Execute(ctx context.Context, cmd *StartOrderCommand) (*StartOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.start_order")
	defer span.End()

	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	currency := cmd.Currency
	if currency == "" {
		currency = "USD"
	}

	saga := domain.NewOrderSaga(cmd.CustomerID, models.NewMoney(cmd.Amount, currency), cmd.Items)

	if err := uc.sagas.Create(ctx, saga); err != nil {
		return nil, errors.Wrap(err, "failed to create saga")
	}

	expected := saga.Version.Value
	start := &messaging.SagaEvent{
		Kind:          messaging.KindStartOrder,
		OrderID:       saga.OrderID.String(),
		CorrelationID: saga.OrderID.String(),
	}

	result, err := domain.Apply(saga, start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start saga")
	}

	if err := uc.sagas.Save(ctx, saga, expected); err != nil {
		return nil, errors.Wrap(err, "failed to persist started saga")
	}

	if result.Command != nil {
		if err := uc.dispatcher.Dispatch(ctx, result.Command); err != nil {
			// The saga is persisted in PAYMENT_PROCESSING; the recovery
			// sweep re-announces the command.
			uc.logger.Error().
				Str("order_id", saga.OrderID.String()).
				Err(err).
				Msg("order saga started but initial command not announced")
		}
	}

	uc.logger.Info().
		Str("order_id", saga.OrderID.String()).
		Str("customer_id", cmd.CustomerID).
		Int64("amount", cmd.Amount).
		Msg("order saga started")

	return &StartOrderResponse{OrderID: saga.OrderID.String()}, nil
}

func (uc *StartOrder) validateCommand(cmd *StartOrderCommand) error {
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if len(cmd.Items) == 0 {
		return errors.New("at least one item is required")
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" {
			return errors.New("item product ID is required")
		}
		if item.Quantity <= 0 {
			return errors.New("item quantity must be positive")
		}
	}
	return nil
}
