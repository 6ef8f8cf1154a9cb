package domain

import "time"

// InventoryItem is the authoritative per-sku stock counter pair.
// available + reserved always equals the physical stock on hand;
// neither counter may go negative.
type InventoryItem struct {
	SKU       string    `db:"sku"`
	Available int64     `db:"available"`
	Reserved  int64     `db:"reserved"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
