// Package inventory applies stock updates to products. Groceries carry a
// counted stock; every other category is only in or out of stock.
package inventory

import (
	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

// Reconcile maps a stock update onto the inventory the product should hold.
// For groceries the out-of-stock flag wins over a count. Other categories
// ignore counts and need the flag.
func Reconcile(category string, current models.Inventory, count *int64, outOfStock *bool) (models.Inventory, error) {
	const op = "inventory.reconcile"

	if models.IsGrocery(category) {
		switch {
		case outOfStock != nil && *outOfStock:
			return models.OutOfStock(), nil
		case count != nil:
			if *count < 0 {
				return current, apperr.Validation(op, "inventory count must be a non-negative integer")
			}
			return models.InStock(*count), nil
		default:
			return current, apperr.Validation(op, "must supply count or out-of-stock flag")
		}
	}

	if outOfStock == nil {
		return current, apperr.Validation(op, "out-of-stock flag required for non-grocery category")
	}
	if *outOfStock {
		return models.OutOfStock(), nil
	}
	return models.Untracked(), nil
}

// Initial is the inventory of a newly created product. With no stock input
// the product starts untracked.
func Initial(category string, count *int64, outOfStock *bool) (models.Inventory, error) {
	if count == nil && outOfStock == nil {
		return models.Untracked(), nil
	}
	return Reconcile(category, models.Untracked(), count, outOfStock)
}
