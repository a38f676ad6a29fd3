package httptransport

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"faceup-server/internal/service"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{service.ErrInvalidMode, http.StatusBadRequest, "invalid_mode"},
	{service.ErrModeForbidden, http.StatusForbidden, "mode_forbidden"},
	{service.ErrTicketRequired, http.StatusForbidden, "ticket_required"},
	{service.ErrDraftNotFound, http.StatusNotFound, "bet_not_found"},
	{service.ErrRoundNotFound, http.StatusNotFound, "round_not_found"},
	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{service.ErrAlertNotFound, http.StatusNotFound, "alert_not_found"},
	{service.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
	{service.ErrDraftConsumed, http.StatusConflict, "already_consumed"},
	{service.ErrDuplicateBetID, http.StatusConflict, "duplicate_bet_id"},
	{service.ErrDraftExpired, http.StatusGone, "expired"},
	{service.ErrBusy, http.StatusServiceUnavailable, "busy"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable"},
}

// writeServiceError maps a service error onto a status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var recErr *service.ReconciliationError
	if errors.As(err, &recErr) {
		WriteHTTPError(w, http.StatusInternalServerError, "reconciliation_required")
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			WriteHTTPError(w, e.status, e.code)
			return
		}
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
}
