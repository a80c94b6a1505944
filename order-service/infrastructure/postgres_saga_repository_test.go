package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*PostgresSagaRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresSagaRepository(sqlx.NewDb(db, "postgres")), mock
}

func repositorySaga(state domain.State, version int) *domain.OrderSaga {
	saga := domain.NewOrderSaga("550e8400-e29b-41d4-a716-446655440010", models.NewMoney(5000, "USD"), []models.OrderItem{
		{ProductID: "prod-1", Quantity: 1, Price: models.NewMoney(5000, "USD")},
	})
	saga.State = state
	saga.Version = models.Version{Value: version}
	return saga
}

func TestPostgresSagaRepository_Create(t *testing.T) {
	repo, mock := newMockRepository(t)
	saga := repositorySaga(domain.StatePending, 0)

	mock.ExpectExec("INSERT INTO order_sagas").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), saga)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSagaRepository_Load(t *testing.T) {
	orderID := models.ID("550e8400-e29b-41d4-a716-446655440020")

	t.Run("returns the stored snapshot", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		data, err := json.Marshal(domain.ExtendedData{
			CustomerID:           "550e8400-e29b-41d4-a716-446655440010",
			Amount:               models.NewMoney(5000, "USD"),
			PaymentTransactionID: "txn-123",
		})
		require.NoError(t, err)

		now := time.Now().UTC()
		rows := sqlmock.NewRows([]string{"order_id", "state", "data", "version", "created_at", "updated_at"}).
			AddRow(orderID.String(), "PAYMENT_COMPLETED", data, 2, now, now)

		mock.ExpectQuery("SELECT order_id, state, data, version, created_at, updated_at").
			WithArgs(orderID.String()).
			WillReturnRows(rows)

		saga, err := repo.Load(context.Background(), orderID)

		require.NoError(t, err)
		assert.Equal(t, orderID, saga.OrderID)
		assert.Equal(t, domain.StatePaymentCompleted, saga.State)
		assert.Equal(t, "txn-123", saga.Data.PaymentTransactionID)
		assert.Equal(t, 2, saga.Version.Value)
	})

	t.Run("maps no rows to ErrSagaNotFound", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery("SELECT order_id, state, data, version, created_at, updated_at").
			WithArgs(orderID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"order_id", "state", "data", "version", "created_at", "updated_at"}))

		saga, err := repo.Load(context.Background(), orderID)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrSagaNotFound)
		assert.Nil(t, saga)
	})
}

func TestPostgresSagaRepository_Save(t *testing.T) {
	t.Run("updates the matching version", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		saga := repositorySaga(domain.StatePaymentCompleted, 2)

		mock.ExpectExec("UPDATE order_sagas").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Save(context.Background(), saga, 1)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows means a concurrent writer won", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		saga := repositorySaga(domain.StatePaymentCompleted, 2)

		mock.ExpectExec("UPDATE order_sagas").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Save(context.Background(), saga, 1)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
	})
}

func TestPostgresSagaRepository_FindUnfinished(t *testing.T) {
	repo, mock := newMockRepository(t)

	data, err := json.Marshal(domain.ExtendedData{CustomerID: "550e8400-e29b-41d4-a716-446655440010"})
	require.NoError(t, err)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"order_id", "state", "data", "version", "created_at", "updated_at"}).
		AddRow("550e8400-e29b-41d4-a716-446655440020", "PAYMENT_PROCESSING", data, 1, now.Add(-time.Hour), now.Add(-time.Hour)).
		AddRow("550e8400-e29b-41d4-a716-446655440021", "PAYMENT_COMPENSATING", data, 4, now.Add(-30*time.Minute), now.Add(-30*time.Minute))

	mock.ExpectQuery("SELECT order_id, state, data, version, created_at, updated_at").
		WithArgs("ORDER_COMPLETED", "ORDER_FAILED", sqlmock.AnyArg()).
		WillReturnRows(rows)

	sagas, err := repo.FindUnfinished(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, sagas, 2)
	assert.Equal(t, domain.StatePaymentProcessing, sagas[0].State)
	assert.Equal(t, domain.StatePaymentCompensating, sagas[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
