package application

import (
	"context"
	"testing"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRecoverInFlightSagas_Execute(t *testing.T) {
	t.Run("re-announces the pending command of each saga", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		paying := storedSaga(domain.StatePaymentProcessing, 1)
		reserving := storedSaga(domain.StatePaymentCompleted, 2)
		refunding := storedSaga(domain.StatePaymentCompensating, 4)
		refunding.Data.PaymentTransactionID = "txn-123"

		repo.On("FindUnfinished", mock.Anything, mock.Anything).
			Return([]*domain.OrderSaga{paying, reserving, refunding}, nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandProcessPayment
		})).Return(nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandReserveInventory
		})).Return(nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandRefundPayment
		})).Return(nil).Once()

		uc := NewRecoverInFlightSagas(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background())

		require.NoError(t, err)
		dispatcher.AssertExpectations(t)
	})

	t.Run("skips sagas with no pending command", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		pending := storedSaga(domain.StatePending, 0)

		repo.On("FindUnfinished", mock.Anything, mock.Anything).
			Return([]*domain.OrderSaga{pending}, nil).Once()

		uc := NewRecoverInFlightSagas(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background())

		require.NoError(t, err)
		dispatcher.AssertNotCalled(t, "Dispatch")
	})

	t.Run("dispatch failure is isolated per order", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		first := storedSaga(domain.StatePaymentProcessing, 1)
		second := storedSaga(domain.StatePaymentCompleted, 2)

		repo.On("FindUnfinished", mock.Anything, mock.Anything).
			Return([]*domain.OrderSaga{first, second}, nil).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandProcessPayment
		})).Return(errors.New("sns unavailable")).Once()
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(cmd messaging.Command) bool {
			return cmd.CommandType() == messaging.CommandReserveInventory
		})).Return(nil).Once()

		uc := NewRecoverInFlightSagas(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background())

		require.NoError(t, err)
		dispatcher.AssertExpectations(t)
	})

	t.Run("scan failure surfaces", func(t *testing.T) {
		repo := &mockSagaRepository{}
		dispatcher := &mockDispatcher{}

		repo.On("FindUnfinished", mock.Anything, mock.Anything).
			Return(nil, errors.New("connection refused")).Once()

		uc := NewRecoverInFlightSagas(repo, dispatcher, zerolog.Nop())
		err := uc.Execute(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list unfinished sagas")
	})
}
