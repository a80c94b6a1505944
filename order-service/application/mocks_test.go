package application

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/stretchr/testify/mock"
)

type mockSagaRepository struct {
	mock.Mock
}

func (m *mockSagaRepository) Create(ctx context.Context, saga *domain.OrderSaga) error {
	args := m.Called(ctx, saga)
	return args.Error(0)
}

func (m *mockSagaRepository) Load(ctx context.Context, orderID models.ID) (*domain.OrderSaga, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OrderSaga), args.Error(1)
}

func (m *mockSagaRepository) Save(ctx context.Context, saga *domain.OrderSaga, expectedVersion int) error {
	args := m.Called(ctx, saga, expectedVersion)
	return args.Error(0)
}

func (m *mockSagaRepository) FindUnfinished(ctx context.Context, updatedBefore time.Time) ([]*domain.OrderSaga, error) {
	args := m.Called(ctx, updatedBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OrderSaga), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, cmd messaging.Command) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic messaging.Topic, key string, payload []byte) error {
	args := m.Called(ctx, topic, key, payload)
	return args.Error(0)
}
