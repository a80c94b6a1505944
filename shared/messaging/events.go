package messaging

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingOrderID     = errors.New("missing order id")
)

// Status is the terminal outcome a downstream service reports for a command.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// EventKind discriminates the concrete event on the wire. The same
// commandType envelope field is used for commands and events.
type EventKind string

const (
	// KindStartOrder is the synthetic trigger applied when an order-creation
	// request arrives. It never travels on the bus.
	KindStartOrder EventKind = "StartOrder"

	KindPaymentProcessed  EventKind = "PaymentProcessedEvent"
	KindPaymentRefunded   EventKind = "PaymentRefundedEvent"
	KindInventoryReserved EventKind = "InventoryReservedEvent"
	KindInventoryReleased EventKind = "InventoryReleasedEvent"
	KindShipmentCreated   EventKind = "ShipmentCreatedEvent"
)

// SagaEvent is the wire envelope shared by every event topic. Events are the
// only input that can mutate a saga; they are immutable once decoded.
type SagaEvent struct {
	Kind           EventKind `json:"commandType"`
	OrderID        string    `json:"orderId"`
	CorrelationID  string    `json:"correlationId"`
	Status         Status    `json:"status,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	TransactionID  string    `json:"transactionId,omitempty"`
	ReservationID  string    `json:"reservationId,omitempty"`
	ShipmentID     string    `json:"shipmentId,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
}

// Succeeded reports whether the downstream outcome was SUCCESS.
func (e *SagaEvent) Succeeded() bool {
	return e.Status == StatusSuccess
}

// eventValidators is the decode-dispatch table: one entry per wire event
// kind. Decoding a kind with no entry fails, which keeps the inbound union
// closed without any reflection.
var eventValidators = map[EventKind]func(*SagaEvent) error{
	KindPaymentProcessed:  validateStatused,
	KindPaymentRefunded:   validateCorrelated,
	KindInventoryReserved: validateStatused,
	KindInventoryReleased: validateCorrelated,
	KindShipmentCreated:   validateStatused,
}

func validateCorrelated(e *SagaEvent) error {
	if e.OrderID == "" {
		return ErrMissingOrderID
	}
	return nil
}

func validateStatused(e *SagaEvent) error {
	if err := validateCorrelated(e); err != nil {
		return err
	}
	if e.Status != StatusSuccess && e.Status != StatusFailed {
		return errors.Errorf("invalid status %q for %s", e.Status, e.Kind)
	}
	return nil
}

// DecodeEvent parses a wire payload into a SagaEvent. Unparseable payloads
// and unknown discriminators are decode failures; callers route those to the
// dead-letter sink rather than into the orchestrator.
func DecodeEvent(raw []byte) (*SagaEvent, error) {
	var event SagaEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.Wrap(err, "malformed event payload")
	}

	validate, ok := eventValidators[event.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessageType, "%q", event.Kind)
	}
	if err := validate(&event); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", event.Kind)
	}

	return &event, nil
}
