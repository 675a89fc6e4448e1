package models

import (
	"encoding/json"
	"time"
)

const (
	TableProducts = "products"
	TableCart     = "cart_lines"
	TableOrders   = "orders"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is a row-level change notification. UserID is empty for rows
// that every session observes (products).
type ChangeEvent struct {
	ID         string          `json:"event_id"`
	Table      string          `json:"table"`
	Type       string          `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	RowID      string          `json:"row_id"`
	ProductID  string          `json:"product_id,omitempty"`
	Row        json.RawMessage `json:"row,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
