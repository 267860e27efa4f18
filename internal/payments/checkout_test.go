package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/circuitbreaker"
	"github.com/jogardn/fromentine-orders/internal/orders"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

type fakeProvider struct {
	requests []CheckoutRequest
	err      error
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return CheckoutSession{}, p.err
	}
	return CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.test/cs_test_123"}, nil
}

func checkoutInput() orders.CreateOrderInput {
	return orders.CreateOrderInput{
		LocationID:    "loc-1",
		CustomerName:  "Ada Lovelace",
		CustomerPhone: "555-0100",
		Type:          models.OrderTypePickup,
		Items: []orders.ItemInput{
			{ProductID: "croissant", Name: "Croissant", Qty: 2, PriceCents: 400},
			{ProductID: "coffee", Name: "Coffee", Qty: 1, PriceCents: 750},
		},
		TotalCents: 1550,
	}
}

func setupCheckout(provider Provider) (*store.MemoryStore, *Checkout) {
	st := store.NewMemoryStore()
	svc := orders.NewService(st, nil, testLogger())
	return st, NewCheckout(svc, provider, "https://shop.test", "usd", testLogger())
}

func TestCreateCheckoutGatesOrderOnPayment(t *testing.T) {
	provider := &fakeProvider{}
	st, checkout := setupCheckout(provider)

	result, err := checkout.CreateCheckout(context.Background(), checkoutInput())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", result.SessionID)
	assert.Equal(t, models.StatusPendingPayment, statusOf(t, st, result.OrderID))

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "https://shop.test/track/"+result.OrderID+"?payment=success", req.SuccessURL)
	assert.Equal(t, "https://shop.test/order?payment=cancelled", req.CancelURL)
	assert.Equal(t, result.OrderID, req.Metadata[MetadataOrderID])
	assert.Equal(t, "Ada Lovelace", req.Metadata["customerName"])
	assert.Equal(t, "pickup", req.Metadata["orderType"])
	assert.False(t, req.CollectShipping)
	require.Len(t, req.LineItems, 2)
	assert.Equal(t, LineItem{Name: "Croissant", Quantity: 2, UnitAmountCents: 400}, req.LineItems[0])
}

func TestCreateCheckoutProviderFailureLeavesOrderPending(t *testing.T) {
	st, checkout := setupCheckout(&fakeProvider{err: errors.New("connection reset")})

	_, err := checkout.CreateCheckout(context.Background(), checkoutInput())
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	pending, err := st.ListOrders(context.Background(), store.OrderFilter{Status: models.StatusPendingPayment})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCreateCheckoutValidationSkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	_, checkout := setupCheckout(provider)
	in := checkoutInput()
	in.Type = models.OrderTypeDelivery

	_, err := checkout.CreateCheckout(context.Background(), in)

	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, provider.requests)
}

func TestCheckoutHandler(t *testing.T) {
	_, checkout := setupCheckout(&fakeProvider{})
	h := NewHandler(checkout, nil, testLogger())

	body := `{"locationId": "loc-1", "customerName": "Ada", "customerPhone": "555",
		"orderType": "delivery", "addressData": {"formatted_address": "1 Main St"},
		"items": [{"product_id": "p1", "name": "Bread", "quantity": 1, "price_cents": 500}],
		"totalCents": 500}`
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/create-checkout-session", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCheckoutSession(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CheckoutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.stripe.test/cs_test_123", resp.URL)
	assert.NotEmpty(t, resp.OrderID)

	w = httptest.NewRecorder()
	NewHandler(nil, nil, testLogger()).CreateCheckoutSession(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_live_1", URL: "https://checkout.stripe.com/c/cs_live_1"}, nil
}

func TestStripeProviderBuildsSession(t *testing.T) {
	sessions := &fakeSessions{}
	provider := newStripeProvider(sessions, nil, testLogger())

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{
		LineItems:       []LineItem{{Name: "Quiche", Quantity: 0, UnitAmountCents: 900}},
		SuccessURL:      "https://shop.test/ok",
		CancelURL:       "https://shop.test/cancel",
		Metadata:        map[string]string{MetadataOrderID: "order-1"},
		CollectShipping: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_live_1", session.ID)
	require.Len(t, sessions.params.LineItems, 1)
	line := sessions.params.LineItems[0]
	assert.Equal(t, int64(1), *line.Quantity)
	assert.Equal(t, "usd", *line.PriceData.Currency)
	assert.Equal(t, int64(900), *line.PriceData.UnitAmount)
	assert.Equal(t, "order-1", sessions.params.Metadata[MetadataOrderID])
	require.NotNil(t, sessions.params.ShippingAddressCollection)
}

func TestStripeClientErrorsDoNotOpenBreaker(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "stripe",
		MaxFailures: 2,
		IsFailure:   IsStripeFailure,
	}, testLogger())
	defer breaker.Shutdown()

	sessions := &fakeSessions{err: &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Msg: "card declined"}}
	provider := newStripeProvider(sessions, breaker, testLogger())
	for i := 0; i < 3; i++ {
		_, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	sessions.err = &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}
	for i := 0; i < 2; i++ {
		_, _ = provider.CreateCheckoutSession(context.Background(), CheckoutRequest{})
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
}
