package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/backoffice/libs/httpx"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

// statusClientClosedRequest is nginx's code for a client that hung up
// before the response was written.
const statusClientClosedRequest = 499

// writeErr maps the booking error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	var conflict *model.ConflictError
	switch {
	case errors.As(err, &conflict):
		httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorBody{
			Error:      "conflict",
			Message:    err.Error(),
			ResourceID: conflict.ResourceID,
		})
	case errors.Is(err, model.ErrNoAvailability):
		httpx.WriteError(w, http.StatusConflict, "no_availability", err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, model.ErrInvalidWindow):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_window", err.Error())
	case errors.Is(err, model.ErrOutsideWorkingHours):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "outside_working_hours", err.Error())
	case errors.Is(err, model.ErrInvalidRule):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_rule", err.Error())
	case errors.Is(err, model.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "timeout", "resources are busy, retry shortly")
	case errors.Is(err, context.Canceled):
		logger.Debug("client went away", "err", err)
		w.WriteHeader(statusClientClosedRequest)
	default:
		logger.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "persistence_failure", "internal error")
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
}
