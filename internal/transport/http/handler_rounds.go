package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"faceup-server/internal/game"
	"faceup-server/internal/service"
)

type RoundHandlers struct {
	bets *service.BetService
}

func NewRoundHandlers(bets *service.BetService) *RoundHandlers {
	return &RoundHandlers{bets: bets}
}

// List handles GET /api/rounds.
func (h *RoundHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		rounds, err := h.bets.History(r.Context(), user.ID, ParseLimit(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "rounds": rounds})
	}
}

// Get handles GET /api/rounds/{gameId}.
func (h *RoundHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		view, err := h.bets.Round(r.Context(), user.ID, chi.URLParam(r, "gameId"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"round":        view.Round,
			"verified":     view.Verification.Valid(),
			"verification": view.Verification,
		})
	}
}

// Verify handles POST /api/rounds/verify. It needs no account.
func (h *RoundHandlers) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in game.VerifyInput
		if !decodeJSON(w, r, &in) {
			return
		}
		v, err := h.bets.Verify(in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"valid":        v.Valid(),
			"verification": v,
		})
	}
}
