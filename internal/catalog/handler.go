package catalog

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/inventory"
	"github.com/jogardn/fromentine-orders/internal/store"
)

const maxBodyBytes = 1 << 16

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ListPublic serves the menu. Only the category filter is honoured.
func (h *Handler) ListPublic(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, store.ProductFilter{Category: r.URL.Query().Get("category")})
}

func (h *Handler) ListAdmin(w http.ResponseWriter, r *http.Request) {
	filter := store.ProductFilter{Category: r.URL.Query().Get("category")}
	switch r.URL.Query().Get("is_grocery") {
	case "true":
		grocery := true
		filter.Grocery = &grocery
	case "false":
		grocery := false
		filter.Grocery = &grocery
	}
	h.list(w, r, filter)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter store.ProductFilter) {
	products, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
	})
}

type productRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	PriceCents     *json.Number    `json:"price_cents"`
	Category       *string         `json:"category"`
	ImageURL       *string         `json:"image_url"`
	InventoryCount json.RawMessage `json:"inventory_count"`
	OutOfStock     *bool           `json:"is_out_of_stock"`
}

func (req productRequest) inventoryNull() bool {
	return bytes.Equal(bytes.TrimSpace(req.InventoryCount), []byte("null"))
}

// inventoryCount parses a present, non-null inventory_count.
func (req productRequest) inventoryCount() (*int64, bool) {
	if len(req.InventoryCount) == 0 || req.inventoryNull() {
		return nil, true
	}
	var n json.Number
	if err := json.Unmarshal(req.InventoryCount, &n); err != nil {
		return nil, false
	}
	return inventory.ParseCount(&n)
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (productRequest, bool) {
	var req productRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	return req, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	in := NewProduct{OutOfStock: req.OutOfStock}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Category != nil {
		in.Category = *req.Category
	}
	if req.ImageURL != nil {
		in.ImageURL = *req.ImageURL
	}
	if req.PriceCents != nil {
		price, err := req.PriceCents.Int64()
		if err != nil {
			httpjson.RespondWithError(w, http.StatusBadRequest, "price_cents must be a positive integer")
			return
		}
		in.PriceCents = price
	}
	if in.Count, ok = req.inventoryCount(); !ok {
		httpjson.RespondWithError(w, http.StatusBadRequest, "inventory_count must be a non-negative integer")
		return
	}

	product, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Product created successfully",
		"product": product,
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	patch := ProductPatch{
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		ImageURL:       req.ImageURL,
		OutOfStock:     req.OutOfStock,
		ClearInventory: req.inventoryNull() && req.OutOfStock == nil,
	}
	if req.PriceCents != nil {
		price, err := req.PriceCents.Int64()
		if err != nil {
			httpjson.RespondWithError(w, http.StatusBadRequest, "price_cents must be a positive integer")
			return
		}
		patch.PriceCents = &price
	}
	if patch.Count, ok = req.inventoryCount(); !ok {
		httpjson.RespondWithError(w, http.StatusBadRequest, "inventory_count must be a non-negative integer or null")
		return
	}

	product, err := h.service.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Product updated successfully",
		"product": product,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Product deleted successfully",
	})
}
