package application

import (
	"context"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/pkg/errors"
)

// GetOrderQuery requests the current snapshot of one order saga.
type GetOrderQuery struct {
	OrderID string
}

// GetOrderResponse is the read model served to the ingress.
type GetOrderResponse struct {
	OrderID              string             `json:"orderId"`
	State                string             `json:"state"`
	CustomerID           string             `json:"customerId"`
	Amount               models.Money       `json:"amount"`
	Items                []models.OrderItem `json:"items"`
	PaymentTransactionID string             `json:"paymentTransactionId,omitempty"`
	ReservationID        string             `json:"reservationId,omitempty"`
	ShipmentID           string             `json:"shipmentId,omitempty"`
	TrackingNumber       string             `json:"trackingNumber,omitempty"`
	LastError            string             `json:"lastError,omitempty"`
	Version              int                `json:"version"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// GetOrder reads a saga snapshot for observability; it never mutates.
type GetOrder struct {
	sagas domain.SagaRepository
}

// NewGetOrder creates the GetOrder query.
func NewGetOrder(sagas domain.SagaRepository) *GetOrder {
	return &GetOrder{sagas: sagas}
}

// Execute loads the snapshot by order id.
func (uc *GetOrder) Execute(ctx context.Context, query *GetOrderQuery) (*GetOrderResponse, error) {
	orderID, err := models.NewID(query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	saga, err := uc.sagas.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &GetOrderResponse{
		OrderID:              saga.OrderID.String(),
		State:                saga.State.String(),
		CustomerID:           saga.Data.CustomerID,
		Amount:               saga.Data.Amount,
		Items:                saga.Data.Items,
		PaymentTransactionID: saga.Data.PaymentTransactionID,
		ReservationID:        saga.Data.InventoryReservation,
		ShipmentID:           saga.Data.ShipmentID,
		TrackingNumber:       saga.Data.TrackingNumber,
		LastError:            saga.Data.LastError,
		Version:              saga.Version.Value,
		UpdatedAt:            saga.Timestamps.UpdatedAt,
	}, nil
}
