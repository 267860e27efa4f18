package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const testSecret = "whsec_test_secret"

type recordingPublisher struct {
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(event models.ChangeEvent) error {
	p.events = append(p.events, event)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func setupConfirmer(t *testing.T) (*store.MemoryStore, *Confirmer, *recordingPublisher) {
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	return st, NewConfirmer(NewStripeVerifier(testSecret), st, pub, testLogger()), pub
}

func seedOrder(t *testing.T, st *store.MemoryStore, id string, status models.Status) {
	now := time.Now().UTC()
	require.NoError(t, st.InsertOrder(context.Background(), &models.Order{
		ID:            id,
		LocationID:    "loc-1",
		CustomerName:  "Ada",
		CustomerPhone: "555-0100",
		Type:          models.OrderTypePickup,
		Status:        status,
		TotalCents:    1550,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func signedEvent(kind EventKind, orderID string) ([]byte, string) {
	metadata := "{}"
	if orderID != "" {
		metadata = fmt.Sprintf(`{"orderId": %q}`, orderID)
	}
	payload := fmt.Sprintf(`{
		"id": "evt_%d",
		"object": "event",
		"type": %q,
		"data": {"object": {"id": "cs_test_1", "object": "checkout.session", "metadata": %s}}
	}`, time.Now().UnixNano(), kind, metadata)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func statusOf(t *testing.T, st *store.MemoryStore, id string) models.Status {
	order, err := st.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	st, c, pub := setupConfirmer(t)
	seedOrder(t, st, "order-1", models.StatusPendingPayment)
	payload, header := signedEvent(EventCheckoutCompleted, "order-1")

	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusReceived, statusOf(t, st, "order-1"))

	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusReceived, statusOf(t, st, "order-1"))
	assert.Len(t, pub.events, 1, "replay must not produce a second write")
}

func TestAsyncPaymentFailureThenSuccess(t *testing.T) {
	st, c, _ := setupConfirmer(t)
	seedOrder(t, st, "order-2", models.StatusPendingPayment)

	payload, header := signedEvent(EventAsyncPaymentFailed, "order-2")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusPaymentFailed, statusOf(t, st, "order-2"))

	payload, header = signedEvent(EventAsyncPaymentSucceeded, "order-2")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusReceived, statusOf(t, st, "order-2"))
}

func TestDelayedPaymentFailureAfterCheckoutCompleted(t *testing.T) {
	st, c, pub := setupConfirmer(t)
	seedOrder(t, st, "order-9", models.StatusPendingPayment)

	payload, header := signedEvent(EventCheckoutCompleted, "order-9")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusReceived, statusOf(t, st, "order-9"))

	payload, header = signedEvent(EventAsyncPaymentFailed, "order-9")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusPaymentFailed, statusOf(t, st, "order-9"))

	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusPaymentFailed, statusOf(t, st, "order-9"))
	assert.Len(t, pub.events, 2)
}

func TestStalePaymentEventsDoNotRewindOrders(t *testing.T) {
	st, c, pub := setupConfirmer(t)
	seedOrder(t, st, "order-3", models.StatusPreparing)
	seedOrder(t, st, "order-4", models.StatusReady)

	payload, header := signedEvent(EventCheckoutCompleted, "order-3")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusPreparing, statusOf(t, st, "order-3"))

	payload, header = signedEvent(EventAsyncPaymentFailed, "order-4")
	require.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))
	assert.Equal(t, models.StatusReady, statusOf(t, st, "order-4"))
	assert.Empty(t, pub.events)
}

func TestInvalidSignatureHasNoSideEffects(t *testing.T) {
	st, c, pub := setupConfirmer(t)
	seedOrder(t, st, "order-5", models.StatusPendingPayment)
	payload, _ := signedEvent(EventCheckoutCompleted, "order-5")

	err := c.HandlePaymentEvent(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, apperr.ErrSignature)

	err = c.HandlePaymentEvent(context.Background(), payload, "")
	assert.ErrorIs(t, err, apperr.ErrSignature)

	tampered, header := signedEvent(EventCheckoutCompleted, "order-5")
	tampered = []byte(strings.Replace(string(tampered), "order-5", "order-6", 1))
	err = c.HandlePaymentEvent(context.Background(), tampered, header)
	assert.ErrorIs(t, err, apperr.ErrSignature)

	assert.Equal(t, models.StatusPendingPayment, statusOf(t, st, "order-5"))
	assert.Empty(t, pub.events)
}

func TestEventsWithoutOrderAreAcknowledged(t *testing.T) {
	st, c, pub := setupConfirmer(t)

	payload, header := signedEvent(EventCheckoutCompleted, "")
	assert.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))

	payload, header = signedEvent(EventCheckoutCompleted, "missing-order")
	assert.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))

	payload, header = signedEvent("payment_intent.created", "order-7")
	assert.NoError(t, c.HandlePaymentEvent(context.Background(), payload, header))

	orders, err := st.ListOrders(context.Background(), store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, pub.events)
}

func TestWebhookHandler(t *testing.T) {
	st, c, _ := setupConfirmer(t)
	seedOrder(t, st, "order-8", models.StatusPendingPayment)
	h := NewHandler(nil, c, testLogger())

	post := func(payload []byte, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhook/payment", strings.NewReader(string(payload)))
		req.Header.Set(SignatureHeader, header)
		w := httptest.NewRecorder()
		h.Webhook(w, req)
		return w
	}

	payload, header := signedEvent(EventCheckoutCompleted, "order-8")
	w := post(payload, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.Equal(t, models.StatusReceived, statusOf(t, st, "order-8"))

	w = post(payload, "t=1,v1=00")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
