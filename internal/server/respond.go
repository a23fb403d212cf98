package server

import (
	"encoding/json"
	"errors"
	"net/http"

	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logx.Error().Err(err).Msg("Error encoding JSON response")
	}
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondError maps err to its status and safe message; wrapped causes are only logged.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.StatusOf(err)
	ev, msg := logx.Debug(), "Request rejected"
	if status >= http.StatusInternalServerError {
		ev, msg = logx.Error(), "Request failed"
	}
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		ev = ev.Str("principal", principal)
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg(msg)
	respondMessage(w, status, errx.MessageOf(err))
}

// decodeJSON reads a JSON body into dst, rejecting unknown shapes and oversized bodies.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &errx.AppError{Kind: errx.KindValidation, Err: err, Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		}
		return errx.Validation("invalid JSON body")
	}
	return nil
}
