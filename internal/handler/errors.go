package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/game"
	"trick-room-server/internal/pkg/lock"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

var errBadRequest = errors.New("malformed request")

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotYourTurn), errors.Is(err, session.ErrInvalidPhase):
		return http.StatusConflict
	case errors.Is(err, service.ErrRoomFull):
		return http.StatusConflict
	case session.IsValidation(err),
		errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrUnknownAction),
		errors.Is(err, service.ErrInvalidName),
		errors.Is(err, game.ErrUnknownVariant):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, session.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoVariantSelected):
		return http.StatusPreconditionFailed
	case errors.Is(err, lock.ErrLockTimeout),
		errors.Is(err, service.ErrRoomClosed),
		errors.Is(err, service.ErrManagerClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"error": reason}. Unexpected errors are logged and their
// details kept out of the response, except for broken sessions where the
// reason tells clients to start over.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()

	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		if !errors.Is(err, service.ErrSessionBroken) {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
