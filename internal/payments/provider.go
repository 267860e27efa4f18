// Package payments connects the storefront to the hosted payment provider:
// checkout session creation on the way out, signed webhook events on the
// way back in.
package payments

import "context"

type LineItem struct {
	Name            string
	Quantity        int64
	UnitAmountCents int64
}

type CheckoutRequest struct {
	Currency   string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// CollectShipping asks the provider to collect a shipping address.
	CollectShipping bool
}

type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

type EventKind string

const (
	EventCheckoutCompleted     EventKind = "checkout.session.completed"
	EventAsyncPaymentSucceeded EventKind = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    EventKind = "checkout.session.async_payment_failed"
)

// Event is a verified provider event reduced to what order confirmation
// needs. OrderID is empty when the event carried no order metadata.
type Event struct {
	ID      string
	Kind    EventKind
	OrderID string
}

// Verifier authenticates a raw webhook body against its signature header.
// It returns an apperr Signature error for anything it cannot trust.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (Event, error)
}

// MetadataOrderID is the checkout metadata key carrying the order id.
const MetadataOrderID = "orderId"
