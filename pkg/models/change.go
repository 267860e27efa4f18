package models

import "time"

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

const (
	TableOrders   = "orders"
	TableProducts = "products"
)

// ChangeEvent is one row mutation on the change feed. Delivery is
// at-least-once with no ordering across tables.
type ChangeEvent struct {
	ID        string     `json:"id"`
	Table     string     `json:"table"`
	Kind      ChangeKind `json:"event_kind"`
	Order     *Order     `json:"order,omitempty"`
	Product   *Product   `json:"product,omitempty"`
	EventTime time.Time  `json:"event_time"`
}

// Key is the partitioning key: the row id.
func (e ChangeEvent) Key() string {
	switch {
	case e.Order != nil:
		return e.Order.ID
	case e.Product != nil:
		return e.Product.ID
	default:
		return e.ID
	}
}
