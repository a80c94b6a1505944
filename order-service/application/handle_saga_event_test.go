package application

import (
	"context"
	"testing"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func storedSaga(state domain.State, version int) *domain.OrderSaga {
	saga := domain.NewOrderSaga("550e8400-e29b-41d4-a716-446655440010", models.NewMoney(5000, "USD"), []models.OrderItem{
		{ProductID: "prod-1", Quantity: 1, Price: models.NewMoney(5000, "USD")},
	})
	saga.OrderID = models.ID("550e8400-e29b-41d4-a716-446655440020")
	saga.State = state
	saga.Version = models.Version{Value: version}
	return saga
}

func paymentProcessed(status messaging.Status) *messaging.SagaEvent {
	return &messaging.SagaEvent{
		Kind:          messaging.KindPaymentProcessed,
		OrderID:       "550e8400-e29b-41d4-a716-446655440020",
		CorrelationID: "550e8400-e29b-41d4-a716-446655440020",
		Status:        status,
		TransactionID: "txn-123",
	}
}

func TestHandleSagaEvent_Execute(t *testing.T) {
	orderID := models.ID("550e8400-e29b-41d4-a716-446655440020")

	t.Run("applies transition, persists, then dispatches", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		saga := storedSaga(domain.StatePaymentProcessing, 3)

		repo.On("Load", mock.Anything, orderID).Return(saga, nil).Once()
		repo.On("Save", mock.Anything, saga, 3).Return(nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandReserveInventory
		})).Return(nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.NoError(t, err)
		assert.Equal(t, domain.StatePaymentCompleted, saga.State)
		assert.Equal(t, 4, saga.Version.Value)
		assert.Equal(t, "txn-123", saga.Data.PaymentTransactionID)
		repo.AssertExpectations(t)
		dispatcher.AssertExpectations(t)
	})

	t.Run("unknown saga is discarded without error", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		repo.On("Load", mock.Anything, orderID).Return(nil, domain.ErrSagaNotFound).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.NoError(t, err)
		dispatcher.AssertNotCalled(t, "Dispatch")
	})

	t.Run("missing order id is discarded without error", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), &messaging.SagaEvent{Kind: messaging.KindPaymentProcessed})

		require.NoError(t, err)
		repo.AssertNotCalled(t, "Load")
	})

	t.Run("load failure requeues the event", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		repo.On("Load", mock.Anything, orderID).Return(nil, errors.New("connection refused")).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load saga")
	})

	t.Run("duplicate delivery is a silent no-op", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		saga := storedSaga(domain.StatePaymentCompleted, 4)

		repo.On("Load", mock.Anything, orderID).Return(saga, nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.NoError(t, err)
		assert.Equal(t, domain.StatePaymentCompleted, saga.State)
		assert.Equal(t, 4, saga.Version.Value)
		repo.AssertNotCalled(t, "Save")
		dispatcher.AssertNotCalled(t, "Dispatch")
	})

	t.Run("terminal saga absorbs any event", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		saga := storedSaga(domain.StateOrderCompleted, 5)

		repo.On("Load", mock.Anything, orderID).Return(saga, nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusFailed))

		require.NoError(t, err)
		assert.Equal(t, domain.StateOrderCompleted, saga.State)
		repo.AssertNotCalled(t, "Save")
	})

	t.Run("version conflict reloads and retries once", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		stale := storedSaga(domain.StatePaymentProcessing, 3)
		fresh := storedSaga(domain.StatePaymentProcessing, 4)

		repo.On("Load", mock.Anything, orderID).Return(stale, nil).Once()
		repo.On("Save", mock.Anything, stale, 3).Return(domain.ErrVersionConflict).Once()
		repo.On("Load", mock.Anything, orderID).Return(fresh, nil).Once()
		repo.On("Save", mock.Anything, fresh, 4).Return(nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.NoError(t, err)
		assert.Equal(t, domain.StatePaymentCompleted, fresh.State)
		repo.AssertExpectations(t)
		dispatcher.AssertExpectations(t)
	})

	t.Run("repeated version conflict requeues the event", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		first := storedSaga(domain.StatePaymentProcessing, 3)
		second := storedSaga(domain.StatePaymentProcessing, 4)

		repo.On("Load", mock.Anything, orderID).Return(first, nil).Once()
		repo.On("Save", mock.Anything, first, 3).Return(domain.ErrVersionConflict).Once()
		repo.On("Load", mock.Anything, orderID).Return(second, nil).Once()
		repo.On("Save", mock.Anything, second, 4).Return(domain.ErrVersionConflict).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		dispatcher.AssertNotCalled(t, "Dispatch")
	})

	t.Run("conflict retry can land on a no-op", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		stale := storedSaga(domain.StatePaymentProcessing, 3)
		// The concurrent writer already applied this very event.
		advanced := storedSaga(domain.StatePaymentCompleted, 4)

		repo.On("Load", mock.Anything, orderID).Return(stale, nil).Once()
		repo.On("Save", mock.Anything, stale, 3).Return(domain.ErrVersionConflict).Once()
		repo.On("Load", mock.Anything, orderID).Return(advanced, nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.NoError(t, err)
		dispatcher.AssertNotCalled(t, "Dispatch")
	})

	t.Run("dispatch failure after persist requeues the event", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		saga := storedSaga(domain.StatePaymentProcessing, 3)

		repo.On("Load", mock.Anything, orderID).Return(saga, nil).Once()
		repo.On("Save", mock.Anything, saga, 3).Return(nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("sns unavailable")).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background(), paymentProcessed(messaging.StatusSuccess))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transition persisted but command not announced")
		// The state change survives; redelivery will no-op against it.
		assert.Equal(t, domain.StatePaymentCompleted, saga.State)
	})

	t.Run("failed action leaves the snapshot unpersisted", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}
		saga := storedSaga(domain.StatePaymentCompleted, 4)
		// No payment transaction recorded: the refund action cannot build.
		saga.Data.PaymentTransactionID = ""

		repo.On("Load", mock.Anything, orderID).Return(saga, nil).Once()

		uc := NewHandleSagaEvent(repo, dispatcher, zerolog.Nop())
		ev := paymentProcessed(messaging.StatusFailed)
		ev.Kind = messaging.KindInventoryReserved
		err := uc.Execute(context.Background(), ev)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transition aborted")
		repo.AssertNotCalled(t, "Save")
		dispatcher.AssertNotCalled(t, "Dispatch")
	})
}
