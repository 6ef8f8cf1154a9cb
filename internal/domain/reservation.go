package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "held"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

// Reservation is a temporary claim on stock. Once Committed or Released
// it is terminal and never mutated again. OrderID is kept for audit only;
// mutation always travels Order -> Reservation, never back.
type Reservation struct {
	ID         string            `db:"id"`
	OrderID    string            `db:"order_id"`
	Lines      []OrderLine       `db:"lines"`
	Status     ReservationStatus `db:"status"`
	CreatedAt  time.Time         `db:"created_at"`
	ResolvedAt *time.Time        `db:"resolved_at"`
}

func (r *Reservation) IsResolved() bool {
	return r.Status != ReservationStatusHeld
}
