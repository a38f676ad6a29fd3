package httptransport

import (
	"net/http"
	"time"

	"faceup-server/internal/model"
	"faceup-server/internal/service"
)

type BetHandlers struct {
	bets *service.BetService
}

func NewBetHandlers(bets *service.BetService) *BetHandlers {
	return &BetHandlers{bets: bets}
}

type betDraftView struct {
	BetID     string     `json:"betId"`
	Amount    int64      `json:"amount"`
	Mode      model.Mode `json:"mode"`
	SeedHash  string     `json:"seedHash"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Prepare handles POST /api/bets/prepare.
func (h *BetHandlers) Prepare() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		var body struct {
			BetID  string `json:"betId"`
			Amount int64  `json:"amount"`
			Mode   string `json:"mode"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		draft, err := h.bets.Prepare(r.Context(), service.PrepareRequest{
			BetID:  body.BetID,
			UserID: user.ID,
			Amount: body.Amount,
			Mode:   body.Mode,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"betDraft": betDraftView{
				BetID:     draft.BetID,
				Amount:    draft.Amount,
				Mode:      draft.Mode,
				SeedHash:  draft.SeedHash,
				ExpiresAt: draft.ExpiresAt,
			},
		})
	}
}

// Commit handles POST /api/bets/commit.
func (h *BetHandlers) Commit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		var body struct {
			BetID string `json:"betId"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		res, err := h.bets.Commit(r.Context(), user.ID, body.BetID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"deductedAmount": res.DeductedAmount,
			"remainingCoins": res.RemainingCoins,
			"mode":           res.Mode,
			"round":          res.Round,
		})
	}
}
