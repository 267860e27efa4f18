package locations

import (
	"net/http"
	"strconv"

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

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.List(r.Context())
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"locations": locations,
	})
}

func (h *Handler) Nearest(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "lat and lng query parameters are required")
		return
	}

	location, err := h.service.Nearest(r.Context(), lat, lng)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"location": location,
	})
}
