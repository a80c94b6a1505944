package messaging

import (
	"encoding/json"

	"github.com/codeexpert/order-saga/shared/models"
	"github.com/pkg/errors"
)

// CommandType discriminates the concrete command on the wire. The value is
// carried in the envelope's commandType field.
type CommandType string

const (
	CommandProcessPayment   CommandType = "ProcessPaymentCommand"
	CommandRefundPayment    CommandType = "RefundPaymentCommand"
	CommandReserveInventory CommandType = "ReserveInventoryCommand"
	CommandReleaseInventory CommandType = "ReleaseInventoryCommand"
	CommandCreateShipment   CommandType = "CreateShipmentCommand"
)

// Command is an outbound instruction to a downstream service. Commands are
// immutable once built and are never persisted beyond publish.
type Command interface {
	CommandType() CommandType
	// PartitionKey is the order id; every topic is partitioned on it so the
	// transport preserves per-order command ordering.
	PartitionKey() string
}

// commandBase carries the fields shared by every command envelope. The
// correlation id always equals the order id in this design.
type commandBase struct {
	Type          CommandType `json:"commandType"`
	OrderID       string      `json:"orderId"`
	CorrelationID string      `json:"correlationId"`
}

func newCommandBase(t CommandType, orderID string) commandBase {
	return commandBase{Type: t, OrderID: orderID, CorrelationID: orderID}
}

func (b commandBase) CommandType() CommandType { return b.Type }
func (b commandBase) PartitionKey() string     { return b.OrderID }

// ProcessPaymentCommand asks the payment service to charge the customer.
type ProcessPaymentCommand struct {
	commandBase
	CustomerID string       `json:"customerId"`
	Amount     models.Money `json:"amount"`
}

func NewProcessPaymentCommand(orderID, customerID string, amount models.Money) *ProcessPaymentCommand {
	return &ProcessPaymentCommand{
		commandBase: newCommandBase(CommandProcessPayment, orderID),
		CustomerID:  customerID,
		Amount:      amount,
	}
}

// RefundPaymentCommand compensates a completed payment.
type RefundPaymentCommand struct {
	commandBase
	TransactionID string       `json:"transactionId"`
	Amount        models.Money `json:"amount"`
}

func NewRefundPaymentCommand(orderID, transactionID string, amount models.Money) *RefundPaymentCommand {
	return &RefundPaymentCommand{
		commandBase:   newCommandBase(CommandRefundPayment, orderID),
		TransactionID: transactionID,
		Amount:        amount,
	}
}

// ReserveInventoryCommand asks the inventory service to reserve the line items.
type ReserveInventoryCommand struct {
	commandBase
	Items []models.OrderItem `json:"items"`
}

func NewReserveInventoryCommand(orderID string, items []models.OrderItem) *ReserveInventoryCommand {
	return &ReserveInventoryCommand{
		commandBase: newCommandBase(CommandReserveInventory, orderID),
		Items:       items,
	}
}

// ReleaseInventoryCommand compensates a completed reservation.
type ReleaseInventoryCommand struct {
	commandBase
	ReservationID string `json:"reservationId"`
}

func NewReleaseInventoryCommand(orderID, reservationID string) *ReleaseInventoryCommand {
	return &ReleaseInventoryCommand{
		commandBase:   newCommandBase(CommandReleaseInventory, orderID),
		ReservationID: reservationID,
	}
}

// CreateShipmentCommand asks the shipping service to ship the order.
type CreateShipmentCommand struct {
	commandBase
	CustomerID string             `json:"customerId"`
	Items      []models.OrderItem `json:"items"`
}

func NewCreateShipmentCommand(orderID, customerID string, items []models.OrderItem) *CreateShipmentCommand {
	return &CreateShipmentCommand{
		commandBase: newCommandBase(CommandCreateShipment, orderID),
		CustomerID:  customerID,
		Items:       items,
	}
}

// EncodeCommand serializes a command into its wire envelope.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", cmd.CommandType())
	}
	return payload, nil
}
