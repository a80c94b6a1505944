package domain

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/shared/models"
	"github.com/pkg/errors"
)

// State represents the position of an order saga in the distributed
// transaction.
type State string

const (
	StatePending            State = "PENDING"
	StatePaymentProcessing  State = "PAYMENT_PROCESSING"
	StatePaymentCompleted   State = "PAYMENT_COMPLETED"
	StateInventoryReserving State = "INVENTORY_RESERVING"
	StateInventoryReserved  State = "INVENTORY_RESERVED"
	StateShippingProcessing State = "SHIPPING_PROCESSING"
	StateOrderCompleted     State = "ORDER_COMPLETED"

	StatePaymentCompensating   State = "PAYMENT_COMPENSATING"
	StateInventoryCompensating State = "INVENTORY_COMPENSATING"
	StateOrderFailed           State = "ORDER_FAILED"
)

// States enumerates the full fixed state set.
var States = []State{
	StatePending,
	StatePaymentProcessing,
	StatePaymentCompleted,
	StateInventoryReserving,
	StateInventoryReserved,
	StateShippingProcessing,
	StateOrderCompleted,
	StatePaymentCompensating,
	StateInventoryCompensating,
	StateOrderFailed,
}

// IsTerminal reports whether the state permits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateOrderCompleted || s == StateOrderFailed
}

func (s State) String() string {
	return string(s)
}

// ExtendedData is the saga's business payload, accumulated from the order
// request and from downstream results.
type ExtendedData struct {
	CustomerID            string             `json:"customerId"`
	Amount                models.Money       `json:"amount"`
	Items                 []models.OrderItem `json:"items"`
	PaymentTransactionID  string             `json:"paymentTransactionId,omitempty"`
	InventoryReservation  string             `json:"inventoryReservationId,omitempty"`
	ShipmentID            string             `json:"shipmentId,omitempty"`
	TrackingNumber        string             `json:"trackingNumber,omitempty"`
	LastError             string             `json:"lastError,omitempty"`
}

// OrderSaga is one instance of the distributed order transaction, keyed by
// order id. It is owned exclusively by the orchestrator core; the store only
// persists and retrieves snapshots.
type OrderSaga struct {
	OrderID    models.ID
	State      State
	Data       ExtendedData
	Timestamps models.Timestamps
	Version    models.Version
}

// NewOrderSaga creates a saga in its initial state with version zero.
func NewOrderSaga(customerID string, amount models.Money, items []models.OrderItem) *OrderSaga {
	return &OrderSaga{
		OrderID: models.GenerateUUID(),
		State:   StatePending,
		Data: ExtendedData{
			CustomerID: customerID,
			Amount:     amount,
			Items:      items,
		},
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}
}

// IsTerminal reports whether the saga has finished, successfully or not.
func (s *OrderSaga) IsTerminal() bool {
	return s.State.IsTerminal()
}

var (
	// ErrSagaNotFound signals an event referencing an order this instance
	// never started or that was already archived.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrVersionConflict signals a concurrent writer raced this saga; the
	// caller must reload and recompute the transition.
	ErrVersionConflict = errors.New("saga version conflict")
)

// SagaRepository is the persistence contract for saga snapshots. The store is
// the system of record; it never decides transitions.
type SagaRepository interface {
	// Create inserts a fresh saga at its current version.
	Create(ctx context.Context, saga *OrderSaga) error

	// Load returns the current snapshot, or ErrSagaNotFound.
	Load(ctx context.Context, orderID models.ID) (*OrderSaga, error)

	// Save persists the snapshot only if the stored version still equals
	// expectedVersion, otherwise ErrVersionConflict.
	Save(ctx context.Context, saga *OrderSaga, expectedVersion int) error

	// FindUnfinished returns non-terminal sagas whose last update is older
	// than the given instant.
	FindUnfinished(ctx context.Context, updatedBefore time.Time) ([]*OrderSaga, error)
}
