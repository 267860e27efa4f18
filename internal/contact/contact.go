// Package contact stores catering enquiries from the public site.
package contact

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/sanitize"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const (
	maxNameLen    = 255
	maxEmailLen   = 255
	maxPhoneLen   = 50
	maxMessageLen = 2000
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Store interface {
	InsertContact(ctx context.Context, contact *models.Contact) error
}

type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type Service struct {
	store  Store
	logger *logrus.Logger
}

func NewService(st Store, logger *logrus.Logger) *Service {
	return &Service{store: st, logger: logger}
}

func (s *Service) Submit(ctx context.Context, req Request) (*models.Contact, error) {
	const op = "contact.submit"

	email := strings.TrimSpace(req.Email)
	contact := &models.Contact{
		ID:        uuid.New().String(),
		Name:      sanitize.Text(req.Name, maxNameLen),
		Email:     strings.ToLower(sanitize.Text(email, maxEmailLen)),
		Phone:     sanitize.Text(req.Phone, maxPhoneLen),
		Message:   sanitize.Text(req.Message, maxMessageLen),
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case contact.Name == "" || email == "" || contact.Message == "":
		return nil, apperr.Validation(op, "Name, email, and message are required")
	case !emailPattern.MatchString(email):
		return nil, apperr.Validation(op, "Invalid email format")
	}

	if err := s.store.InsertContact(ctx, contact); err != nil {
		return nil, apperr.Storage(op, err)
	}
	s.logger.WithField("contact_id", contact.ID).Info("Catering contact received")
	return contact, nil
}

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpjson.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	contact, err := h.service.Submit(r.Context(), req)
	if err != nil {
		httpjson.RespondWithAppError(w, h.logger, err)
		return
	}
	httpjson.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Contact form submitted successfully",
		"id":      contact.ID,
	})
}
