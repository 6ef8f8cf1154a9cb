// Package lifecycle holds the order state machine as an explicit
// transition table, so the full set of legal moves is checkable in one
// place instead of being scattered over status-dependent methods.
package lifecycle

import "github.com/plt-repo/order-inventory-platform/internal/domain"

// SideEffect names the reservation work a transition carries. The engine
// runs it inside the same transaction as the status change.
type SideEffect int

const (
	EffectNone SideEffect = iota
	EffectReserve
	EffectCommit
	EffectRelease
	// EffectConsume deducts a committed reservation's quantities from
	// reserved: the stock physically left on shipment.
	EffectConsume
	// EffectCompensate returns a committed reservation's quantities to
	// available: refund before the stock ever shipped.
	EffectCompensate
	// EffectReleaseIfOpen releases a reservation only when one is still
	// held, compensates when it was already committed.
	EffectReleaseIfOpen
)

type transitionKey struct {
	from  domain.OrderStatus
	event domain.OrderEvent
}

type Transition struct {
	To     domain.OrderStatus
	Effect SideEffect
}

var transitions = map[transitionKey]Transition{
	{domain.OrderStatusPlaced, domain.EventReserveRequested}: {domain.OrderStatusReserved, EffectReserve},
	{domain.OrderStatusPlaced, domain.EventReserveFailed}:    {domain.OrderStatusCancelled, EffectNone},

	{domain.OrderStatusReserved, domain.EventPaymentConfirmed}: {domain.OrderStatusPaid, EffectCommit},
	{domain.OrderStatusReserved, domain.EventPaymentFailed}:    {domain.OrderStatusCancelled, EffectRelease},
	{domain.OrderStatusReserved, domain.EventPaymentTimeout}:   {domain.OrderStatusCancelled, EffectRelease},

	{domain.OrderStatusPaid, domain.EventShipmentConfirmed}:     {domain.OrderStatusShipped, EffectConsume},
	{domain.OrderStatusPaid, domain.EventCancellationRequested}: {domain.OrderStatusRefunded, EffectCompensate},
}

// Next resolves the transition for the given status and event. Any pair
// without a table row is an invalid transition: a duplicate, an
// out-of-order event, or a client bug, and is always reported.
func Next(from domain.OrderStatus, event domain.OrderEvent) (Transition, error) {
	if event == domain.EventAdminOverrideCancel {
		if from.IsTerminal() {
			return Transition{}, domain.ErrInvalidTransition
		}
		return Transition{To: domain.OrderStatusCancelled, Effect: EffectReleaseIfOpen}, nil
	}

	t, ok := transitions[transitionKey{from, event}]
	if !ok {
		return Transition{}, domain.ErrInvalidTransition
	}

	return t, nil
}
