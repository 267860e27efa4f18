package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/circuitbreaker"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProvider creates Stripe Checkout sessions behind a circuit breaker.
type StripeProvider struct {
	sessions stripeSessionAPI
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewStripeProvider(apiKey string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) (*StripeProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return newStripeProvider(sc.CheckoutSessions, breaker, logger), nil
}

func newStripeProvider(sessions stripeSessionAPI, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *StripeProvider {
	return &StripeProvider{sessions: sessions, breaker: breaker, logger: logger}
}

// IsStripeFailure reports whether err says something about Stripe's health.
// Card declines and bad parameters are the caller's problem and must not
// open the breaker.
func IsStripeFailure(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	if req.CollectShipping {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"US"}),
		}
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	for _, item := range req.LineItems {
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	var session *stripe.CheckoutSession
	call := func(ctx context.Context) error {
		var err error
		session, err = p.sessions.New(params)
		return err
	}
	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"order_id":   req.Metadata[MetadataOrderID],
	}).Info("Checkout session created")
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// StripeVerifier checks the Stripe-Signature header against the endpoint
// secret and decodes checkout session events.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

const verifyOp = "payments.verify"

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	if v.secret == "" {
		return Event{}, apperr.Signature(verifyOp, errors.New("webhook secret not configured"))
	}
	if signatureHeader == "" {
		return Event{}, apperr.Signature(verifyOp, errors.New("missing signature header"))
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, apperr.Signature(verifyOp, err)
	}

	event := Event{ID: stripeEvent.ID, Kind: EventKind(stripeEvent.Type)}
	switch event.Kind {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
	default:
		return event, nil
	}
	if stripeEvent.Data == nil {
		return event, nil
	}

	// The payload is authentic at this point; a body we cannot decode is
	// treated like one without order metadata.
	var session stripe.CheckoutSession
	if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err == nil {
		event.OrderID = session.Metadata[MetadataOrderID]
	}
	return event, nil
}
