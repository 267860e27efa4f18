package orders

import (
	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

// Validate decides whether an order at current may move to requested.
// Only two moves are refused: anything outside the closed status set, and
// COMPLETED to CANCELLED. Backward moves such as READY to RECEIVED are
// allowed so staff can correct a mis-click.
func Validate(current, requested models.Status) error {
	const op = "orders.validate"
	if !requested.Valid() {
		return apperr.InvalidTransition(op, "unknown status")
	}
	if current == models.StatusCompleted && requested == models.StatusCancelled {
		return apperr.InvalidTransition(op, "cannot cancel completed order")
	}
	return nil
}
