package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/models"
)

type errorBody struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes {"message": msg} with the given status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Message: msg})
}

// WriteError maps err to a status code with statusFor.
func WriteError(w http.ResponseWriter, err error) {
	WriteMessage(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, models.ErrMissingCredentials),
		errors.Is(err, models.ErrMissingLocations),
		errors.Is(err, models.ErrMalformedOffer):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNoSession),
		errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrUnknownAccount):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrRideUnavailable):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, models.ErrTransport),
		errors.Is(err, models.ErrSubscription):
		return http.StatusBadGateway
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
