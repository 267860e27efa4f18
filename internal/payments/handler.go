package payments

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/orders"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 1 << 16

const maxCheckoutBytes = 1 << 20

// SignatureHeader is where Stripe puts the webhook signature.
const SignatureHeader = "Stripe-Signature"

type Handler struct {
	checkout  *Checkout
	confirmer *Confirmer
	logger    *logrus.Logger
}

// NewHandler wires the payment routes. checkout may be nil when no payment
// provider is configured.
func NewHandler(checkout *Checkout, confirmer *Confirmer, logger *logrus.Logger) *Handler {
	return &Handler{checkout: checkout, confirmer: confirmer, logger: logger}
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		httpjson.RespondWithError(w, http.StatusInternalServerError, "Payments are not configured")
		return
	}

	var in orders.CreateOrderInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBytes)).Decode(&in); err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.checkout.CreateCheckout(r.Context(), in)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.confirmer.HandlePaymentEvent(r.Context(), payload, r.Header.Get(SignatureHeader)); err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
	})
}
