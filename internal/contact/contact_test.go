package contact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/store"
)

func setupContact() (*store.MemoryStore, *Service) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	st := store.NewMemoryStore()
	return st, NewService(st, logger)
}

func TestSubmitStoresSanitisedContact(t *testing.T) {
	st, svc := setupContact()

	_, err := svc.Submit(context.Background(), Request{
		Name:    "  Grace <b>Hopper</b> ",
		Email:   " Grace@Example.COM ",
		Message: strings.Repeat("x", 2100),
	})
	require.NoError(t, err)

	saved := st.Contacts()
	require.Len(t, saved, 1)
	assert.Equal(t, "Grace Hopper", saved[0].Name)
	assert.Equal(t, "grace@example.com", saved[0].Email)
	assert.Empty(t, saved[0].Phone)
	assert.Len(t, saved[0].Message, 2000)
}

func TestSubmitValidation(t *testing.T) {
	_, svc := setupContact()

	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"missing name", Request{Email: "a@b.co", Message: "hi"}, "Name, email, and message are required"},
		{"missing message", Request{Name: "A", Email: "a@b.co"}, "Name, email, and message are required"},
		{"bad email", Request{Name: "A", Email: "not-an-email", Message: "hi"}, "Invalid email format"},
		{"email with space", Request{Name: "A", Email: "a b@c.io", Message: "hi"}, "Invalid email format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tt.msg, apperr.PublicMessage(err))
		})
	}
}

func TestSubmitHandler(t *testing.T) {
	_, svc := setupContact()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	h := NewHandler(svc, logger)

	w := httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/api/contact",
		strings.NewReader(`{"name": "Ada", "email": "ada@example.com", "message": "Party of 40"}`)))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
