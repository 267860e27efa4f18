package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchingThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", Validation("orders.create", "customer name is required"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrStorage))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Equal(t, "customer name is required", PublicMessage(err))
}

func TestCompensationKeepsOriginalStorageError(t *testing.T) {
	itemsErr := Storage("orders.insert_items", errors.New("duplicate key"))
	rollbackErr := errors.New("connection reset")

	err := Compensation("orders.create", itemsErr, rollbackErr)

	assert.True(t, errors.Is(err, ErrCompensation))
	assert.True(t, errors.Is(err, ErrStorage), "original storage error must stay visible")
	assert.True(t, errors.Is(err, rollbackErr))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "Internal server error", PublicMessage(err))
	assert.Contains(t, err.Error(), "duplicate key")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStorageDetailsNotLeaked(t *testing.T) {
	err := Storage("orders.get", errors.New(`pq: relation "orders" does not exist`))

	assert.Equal(t, "Internal server error", PublicMessage(err))
	assert.NotContains(t, PublicMessage(err), "pq")
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("op", "order not found"), http.StatusNotFound},
		{InvalidTransition("op", "cannot cancel"), http.StatusConflict},
		{Signature("op", errors.New("bad sig")), http.StatusBadRequest},
		{Unauthenticated("op", nil), http.StatusUnauthorized},
		{Forbidden("op", "admin role required"), http.StatusForbidden},
		{Unavailable("op", errors.New("breaker open")), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}
