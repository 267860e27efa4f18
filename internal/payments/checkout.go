package payments

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/orders"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*models.Order, error)
}

type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	OrderID   string `json:"orderId"`
}

// Checkout creates a payment-gated order and opens a hosted checkout
// session for it.
type Checkout struct {
	orders   OrderCreator
	provider Provider
	baseURL  string
	currency string
	logger   *logrus.Logger
}

func NewCheckout(creator OrderCreator, provider Provider, baseURL, currency string, logger *logrus.Logger) *Checkout {
	return &Checkout{
		orders:   creator,
		provider: provider,
		baseURL:  baseURL,
		currency: currency,
		logger:   logger,
	}
}

// CreateCheckout leaves the order at PENDING_PAYMENT when the provider call
// fails. Only a verified payment event moves it on.
func (c *Checkout) CreateCheckout(ctx context.Context, in orders.CreateOrderInput) (*CheckoutResult, error) {
	const op = "payments.checkout"

	in.PaymentGated = true
	order, err := c.orders.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetadataOrderID: order.ID,
		"customerName":  order.CustomerName,
		"customerPhone": order.CustomerPhone,
		"orderType":     string(order.Type),
	}
	req := CheckoutRequest{
		Currency:        c.currency,
		SuccessURL:      fmt.Sprintf("%s/track/%s?payment=success", c.baseURL, order.ID),
		CancelURL:       fmt.Sprintf("%s/order?payment=cancelled", c.baseURL),
		Metadata:        metadata,
		CollectShipping: order.Type == models.OrderTypeDelivery && order.CustomerAddress != "",
	}
	for _, item := range order.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		req.LineItems = append(req.LineItems, LineItem{
			Name:            name,
			Quantity:        int64(item.Qty),
			UnitAmountCents: item.PriceCents,
		})
	}

	session, err := c.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to create checkout session, order left pending payment")
		return nil, apperr.Unavailable(op, err)
	}

	return &CheckoutResult{
		SessionID: session.ID,
		URL:       session.URL,
		OrderID:   order.ID,
	}, nil
}
