package domain

import "time"

// Event types recorded in the outbox. Downstream consumers deduplicate
// by the outbox event_id.
const (
	EventTypeOrderPlaced    = "order.placed"
	EventTypeOrderAdvanced  = "order.advanced"
	EventTypeStockIntake    = "stock.intake"
	EventTypeStockReserved  = "stock.reserved"
	EventTypeStockCommitted = "stock.committed"
	EventTypeStockReleased  = "stock.released"
	EventTypeStockConsumed  = "stock.consumed"
	EventTypeStockReturned  = "stock.returned"
)

type OrderPlacedEvent struct {
	OrderID       string      `json:"order_id"`
	ReservationID string      `json:"reservation_id,omitempty"`
	Status        OrderStatus `json:"status"`
	Lines         []OrderLine `json:"lines"`
	PlacedAt      time.Time   `json:"placed_at"`
}

type OrderAdvancedEvent struct {
	OrderID    string      `json:"order_id"`
	Event      OrderEvent  `json:"event"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	AdvancedAt time.Time   `json:"advanced_at"`
}

type StockMovedEvent struct {
	ReservationID string      `json:"reservation_id,omitempty"`
	OrderID       string      `json:"order_id,omitempty"`
	Lines         []OrderLine `json:"lines"`
	MovedAt       time.Time   `json:"moved_at"`
}

type StockIntakeEvent struct {
	SKU       string    `json:"sku"`
	Quantity  int64     `json:"quantity"`
	Available int64     `json:"available"`
	AddedAt   time.Time `json:"added_at"`
}
