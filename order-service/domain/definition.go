package domain

import (
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/pkg/errors"
)

// statusAny matches any event status in a rule guard.
const statusAny messaging.Status = "*"

// ActionFunc builds the zero-or-one outbound command a transition emits. It
// runs against the saga after the event's data has been captured.
type ActionFunc func(s *OrderSaga) (messaging.Command, error)

// Rule is one row of the saga definition: the target state plus the action
// for a (state, event kind, status guard) triple.
type Rule struct {
	Target State
	Action ActionFunc
}

type ruleKey struct {
	from   State
	kind   messaging.EventKind
	status messaging.Status
}

// transitions is the full, static saga definition. Any (state, event, status)
// triple absent from this table is an explicit no-op: a duplicate or stale
// delivery, never an error.
var transitions = map[ruleKey]Rule{
	{StatePending, messaging.KindStartOrder, statusAny}: {
		Target: StatePaymentProcessing,
		Action: actionProcessPayment,
	},
	{StatePaymentProcessing, messaging.KindPaymentProcessed, messaging.StatusSuccess}: {
		Target: StatePaymentCompleted,
		Action: actionReserveInventory,
	},
	{StatePaymentProcessing, messaging.KindPaymentProcessed, messaging.StatusFailed}: {
		Target: StateOrderFailed,
	},
	{StatePaymentCompleted, messaging.KindInventoryReserved, messaging.StatusSuccess}: {
		Target: StateInventoryReserved,
		Action: actionCreateShipment,
	},
	{StatePaymentCompleted, messaging.KindInventoryReserved, messaging.StatusFailed}: {
		Target: StatePaymentCompensating,
		Action: actionRefundPayment,
	},
	{StateInventoryReserved, messaging.KindShipmentCreated, messaging.StatusSuccess}: {
		Target: StateOrderCompleted,
	},
	{StateInventoryReserved, messaging.KindShipmentCreated, messaging.StatusFailed}: {
		Target: StateInventoryCompensating,
		Action: actionReleaseInventory,
	},
	{StateInventoryCompensating, messaging.KindInventoryReleased, statusAny}: {
		Target: StatePaymentCompensating,
		Action: actionRefundPayment,
	},
	{StatePaymentCompensating, messaging.KindPaymentRefunded, statusAny}: {
		Target: StateOrderFailed,
	},
}

// lookupRule finds the applicable rule, first on the exact status, then on
// the wildcard guard.
func lookupRule(from State, kind messaging.EventKind, status messaging.Status) (Rule, bool) {
	if rule, ok := transitions[ruleKey{from, kind, status}]; ok {
		return rule, true
	}
	rule, ok := transitions[ruleKey{from, kind, statusAny}]
	return rule, ok
}

// ApplyResult reports what a transition did.
type ApplyResult struct {
	// Changed is false when no rule matched: duplicate or out-of-order
	// delivery, absorbed without touching state or version.
	Changed bool
	// Command is the at-most-one outbound instruction the transition emits.
	Command messaging.Command
}

// Apply runs the saga definition against one event. On a match it captures
// the event's payload, advances state and version on the in-memory snapshot
// and builds the resulting command. If the action fails the caller must not
// persist the snapshot, so the original state and version stand for a safe
// retry.
func Apply(saga *OrderSaga, event *messaging.SagaEvent) (ApplyResult, error) {
	rule, ok := lookupRule(saga.State, event.Kind, event.Status)
	if !ok {
		return ApplyResult{}, nil
	}

	capture(saga, event)
	saga.State = rule.Target
	saga.Version = saga.Version.Next()
	saga.Timestamps = saga.Timestamps.Touch()

	if rule.Action == nil {
		return ApplyResult{Changed: true}, nil
	}

	cmd, err := rule.Action(saga)
	if err != nil {
		return ApplyResult{}, errors.Wrapf(err, "action for %s in %s", event.Kind, saga.State)
	}

	return ApplyResult{Changed: true, Command: cmd}, nil
}

// capture records the event's payload into the saga's extended data.
func capture(saga *OrderSaga, event *messaging.SagaEvent) {
	if event.Status == messaging.StatusFailed && event.ErrorMessage != "" {
		saga.Data.LastError = event.ErrorMessage
	}

	if event.Status == messaging.StatusFailed {
		return
	}

	switch event.Kind {
	case messaging.KindPaymentProcessed:
		saga.Data.PaymentTransactionID = event.TransactionID
	case messaging.KindInventoryReserved:
		saga.Data.InventoryReservation = event.ReservationID
	case messaging.KindShipmentCreated:
		saga.Data.ShipmentID = event.ShipmentID
		saga.Data.TrackingNumber = event.TrackingNumber
	}
}

func actionProcessPayment(s *OrderSaga) (messaging.Command, error) {
	return messaging.NewProcessPaymentCommand(s.OrderID.String(), s.Data.CustomerID, s.Data.Amount), nil
}

func actionReserveInventory(s *OrderSaga) (messaging.Command, error) {
	return messaging.NewReserveInventoryCommand(s.OrderID.String(), s.Data.Items), nil
}

func actionCreateShipment(s *OrderSaga) (messaging.Command, error) {
	return messaging.NewCreateShipmentCommand(s.OrderID.String(), s.Data.CustomerID, s.Data.Items), nil
}

func actionRefundPayment(s *OrderSaga) (messaging.Command, error) {
	if s.Data.PaymentTransactionID == "" {
		return nil, errors.New("no payment transaction to refund")
	}
	return messaging.NewRefundPaymentCommand(s.OrderID.String(), s.Data.PaymentTransactionID, s.Data.Amount), nil
}

func actionReleaseInventory(s *OrderSaga) (messaging.Command, error) {
	if s.Data.InventoryReservation == "" {
		return nil, errors.New("no inventory reservation to release")
	}
	return messaging.NewReleaseInventoryCommand(s.OrderID.String(), s.Data.InventoryReservation), nil
}

// CommandForState rebuilds the outbound command a non-terminal saga is
// waiting on. The recovery sweep re-publishes it after a restart, which may
// double-publish but never double-mutates state.
func CommandForState(s *OrderSaga) (messaging.Command, bool) {
	var (
		cmd messaging.Command
		err error
	)

	switch s.State {
	case StatePaymentProcessing:
		cmd, err = actionProcessPayment(s)
	case StatePaymentCompleted:
		cmd, err = actionReserveInventory(s)
	case StateInventoryReserved:
		cmd, err = actionCreateShipment(s)
	case StatePaymentCompensating:
		cmd, err = actionRefundPayment(s)
	case StateInventoryCompensating:
		cmd, err = actionReleaseInventory(s)
	default:
		return nil, false
	}

	if err != nil {
		return nil, false
	}
	return cmd, true
}

// ForceTimeout moves a stalled saga onto its compensation path. Compensation
// states stay reachable only from forward states whose side effect has been
// applied: a saga that never got past payment is failed outright, with the
// timeout recorded as its last error.
func ForceTimeout(saga *OrderSaga) (ApplyResult, error) {
	var rule Rule

	switch saga.State {
	case StatePending, StatePaymentProcessing:
		rule = Rule{Target: StateOrderFailed}
	case StatePaymentCompleted:
		rule = Rule{Target: StatePaymentCompensating, Action: actionRefundPayment}
	case StateInventoryReserved:
		rule = Rule{Target: StateInventoryCompensating, Action: actionReleaseInventory}
	case StatePaymentCompensating, StateInventoryCompensating:
		// Already compensating: re-issue the stuck compensation command
		// without another state change.
		cmd, ok := CommandForState(saga)
		if !ok {
			return ApplyResult{}, errors.Errorf("no compensation command for %s", saga.State)
		}
		return ApplyResult{Command: cmd}, nil
	default:
		return ApplyResult{}, nil
	}

	saga.Data.LastError = "saga exceeded processing SLA"
	saga.State = rule.Target
	saga.Version = saga.Version.Next()
	saga.Timestamps = saga.Timestamps.Touch()

	if rule.Action == nil {
		return ApplyResult{Changed: true}, nil
	}

	cmd, err := rule.Action(saga)
	if err != nil {
		return ApplyResult{}, errors.Wrapf(err, "timeout action in %s", saga.State)
	}
	return ApplyResult{Changed: true, Command: cmd}, nil
}
