// Package httpjson holds the JSON response helpers shared by the HTTP handlers.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
)

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// RespondWithAppError maps err onto its HTTP status and public message.
// Server-side failures are logged with the full cause.
func RespondWithAppError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	code := apperr.HTTPStatus(err)
	entry := logger.WithError(err).WithField("kind", apperr.KindOf(err).String())
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	RespondWithError(w, code, apperr.PublicMessage(err))
}
