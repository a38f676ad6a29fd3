package httptransport

import (
	"net/http"

	"faceup-server/internal/service"
)

type UserHandlers struct {
	accounts *service.AccountService
}

func NewUserHandlers(accounts *service.AccountService) *UserHandlers {
	return &UserHandlers{accounts: accounts}
}

// Coins handles GET /api/user/coins.
func (h *UserHandlers) Coins() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		bal, err := h.accounts.GetBalance(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"coins":   bal.Coins,
			"tickets": bal.Tickets,
		})
	}
}

// Transactions handles GET /api/user/transactions.
func (h *UserHandlers) Transactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		entries, err := h.accounts.Transactions(r.Context(), user.ID, ParseLimit(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactions": entries})
	}
}
