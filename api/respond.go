package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"lets-chat/errors"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps the error taxonomy onto HTTP. Store failures never
// leak their cause to the client.
func respondFailure(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, errors.ErrAuthFailure):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, errors.ErrValidation):
		return http.StatusBadRequest, errors.Public(err)
	case errors.Is(err, errors.ErrReceiverNotFound), errors.Is(err, errors.ErrUserNotFound):
		return http.StatusNotFound, errors.Public(err)
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ErrInvalidPayload
	}
	return nil
}
