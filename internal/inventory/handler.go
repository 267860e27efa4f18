package inventory

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/httpjson"
)

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type updateRequest struct {
	Category       string       `json:"category"`
	InventoryCount *json.Number `json:"inventory_count"`
	OutOfStock     *bool        `json:"is_out_of_stock"`
}

// ParseCount accepts a JSON integer, or a string holding one. Fractions and
// other text are rejected.
func ParseCount(n *json.Number) (*int64, bool) {
	if n == nil {
		return nil, true
	}
	v, err := n.Int64()
	if err != nil {
		return nil, false
	}
	return &v, true
}

func (h *Handler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	count, ok := ParseCount(req.InventoryCount)
	if !ok {
		httpjson.RespondWithError(w, http.StatusBadRequest, "inventory_count must be a non-negative integer")
		return
	}

	product, err := h.service.UpdateInventory(r.Context(), mux.Vars(r)["id"], Update{
		Category:   req.Category,
		Count:      count,
		OutOfStock: req.OutOfStock,
	})
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}

	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Inventory updated successfully",
		"product": product,
	})
}
