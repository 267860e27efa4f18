package orders

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/tracking"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type OrderView struct {
	Order    *models.Order       `json:"order"`
	Tracking tracking.Projection `json:"tracking"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		h.logger.WithError(err).Debug("Failed to decode order request")
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}

	httpjson.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"orderId": order.ID,
		"message": "Order created successfully",
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}

	httpjson.RespondWithJSON(w, http.StatusOK, OrderView{
		Order:    order,
		Tracking: tracking.Project(order.Status),
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), models.Status(r.URL.Query().Get("status")))
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	h.logger.WithField("count", len(orders)).Debug("Retrieved orders")

	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

type statusRequest struct {
	Status       models.Status `json:"status"`
	CancelReason string        `json:"cancel_reason"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.CancelReason)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}

	httpjson.RespondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order status updated successfully",
		Order:   order,
	})
}
