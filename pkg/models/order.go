package models

import (
	"time"
)

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusReceived       Status = "RECEIVED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
)

// AllStatuses is the closed set of order statuses, in lifecycle order.
var AllStatuses = []Status{
	StatusPendingPayment,
	StatusReceived,
	StatusPreparing,
	StatusReady,
	StatusOutForDelivery,
	StatusCompleted,
	StatusCancelled,
	StatusPaymentFailed,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type OrderType string

const (
	OrderTypePickup   OrderType = "pickup"
	OrderTypeDelivery OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	return t == OrderTypePickup || t == OrderTypeDelivery
}

type Order struct {
	ID              string      `json:"id"`
	LocationID      string      `json:"location_id"`
	LocationName    string      `json:"location_name,omitempty"`
	CustomerName    string      `json:"customer_name"`
	CustomerPhone   string      `json:"customer_phone"`
	CustomerAddress string      `json:"customer_address,omitempty"`
	Type            OrderType   `json:"type"`
	Status          Status      `json:"status"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	TotalCents      int64       `json:"total_cents"`
	Items           []OrderItem `json:"items,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// OrderItem is a frozen snapshot of a product line at order time. PriceCents
// is never re-read from the product afterwards.
type OrderItem struct {
	ID         int64  `json:"id,omitempty"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name,omitempty"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
