package domain

import (
	"encoding/json"
	"time"
)

// OutboxEvent is written in the same transaction as the state change it
// describes. Delivery is at-least-once; consumers dedup by EventID.
type OutboxEvent struct {
	EventID       string          `db:"event_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Topic         string          `db:"topic"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
}
