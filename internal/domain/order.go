package domain

import (
	"sort"
	"time"
)

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusReserved  OrderStatus = "reserved"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// IsTerminal reports whether no further lifecycle events apply.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// OrderEvent drives the order lifecycle. Events not present in the
// transition table are rejected, never silently ignored.
type OrderEvent string

const (
	EventReserveRequested      OrderEvent = "reserve_requested"
	EventReserveFailed         OrderEvent = "reserve_failed"
	EventPaymentConfirmed      OrderEvent = "payment_confirmed"
	EventPaymentFailed         OrderEvent = "payment_failed"
	EventPaymentTimeout        OrderEvent = "payment_timeout"
	EventShipmentConfirmed     OrderEvent = "shipment_confirmed"
	EventCancellationRequested OrderEvent = "cancellation_requested"
	EventAdminOverrideCancel   OrderEvent = "admin_override_cancel"
)

type Order struct {
	ID             string      `db:"id"`
	IdempotencyKey string      `db:"idempotency_key"`
	Status         OrderStatus `db:"status"`
	Lines          []OrderLine `db:"lines"`
	ReservationID  *string     `db:"reservation_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type OrderLine struct {
	SKU      string `db:"sku" json:"sku"`
	Quantity int64  `db:"quantity" json:"quantity"`
}

// NormalizeLines coalesces duplicate skus and returns the lines in
// ascending sku order. Every caller that touches the ledger walks lines
// in this order so overlapping reservations never deadlock and retry
// storms stay bounded.
func NormalizeLines(lines []OrderLine) []OrderLine {
	bySKU := make(map[string]int64, len(lines))
	for _, line := range lines {
		bySKU[line.SKU] += line.Quantity
	}

	normalized := make([]OrderLine, 0, len(bySKU))
	for sku, qty := range bySKU {
		normalized = append(normalized, OrderLine{SKU: sku, Quantity: qty})
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].SKU < normalized[j].SKU
	})

	return normalized
}
