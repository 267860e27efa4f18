package store

import (
	"errors"

	"github.com/jogardn/fromentine-orders/pkg/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned by a conditional status update whose expected
	// status no longer matches the stored row.
	ErrConflict = errors.New("store: conditional update lost the race")
)

type StatusUpdate struct {
	Status       models.Status
	CancelReason string
	// Expected, when set, makes the write conditional on the current status.
	Expected *models.Status
}

type OrderFilter struct {
	Status models.Status
	Limit  int
}

type ProductFilter struct {
	Category string
	// Grocery restricts to (true) or excludes (false) the groceries category.
	Grocery *bool
}

func matchesProduct(p *models.Product, f ProductFilter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Grocery != nil && models.IsGrocery(p.Category) != *f.Grocery {
		return false
	}
	return true
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]models.OrderItem(nil), o.Items...)
	}
	return &c
}
