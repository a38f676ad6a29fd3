package httptransport

import (
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"faceup-server/internal/service"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Bets     *service.BetService
	Accounts *service.AccountService
	Tokens   *TokenVerifier
	IsAdmin  func(userID string) bool
	Checks   map[string]Pinger
	Ready    *atomic.Bool
}

func NewRouter(d Deps) *chi.Mux {
	betHandlers := NewBetHandlers(d.Bets)
	roundHandlers := NewRoundHandlers(d.Bets)
	userHandlers := NewUserHandlers(d.Accounts)
	adminHandlers := NewAdminHandlers(d.Accounts)
	healthHandlers := NewHealthHandlers(d.Checks, d.Ready)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", healthHandlers.Health())
	r.Get("/ready", healthHandlers.Ready())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/rounds/verify", roundHandlers.Verify())

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Accounts))
			r.Post("/bets/prepare", betHandlers.Prepare())
			r.Post("/bets/commit", betHandlers.Commit())
			r.Get("/user/coins", userHandlers.Coins())
			r.Get("/user/transactions", userHandlers.Transactions())
			r.Get("/rounds", roundHandlers.List())
			r.Get("/rounds/{gameId}", roundHandlers.Get())

			r.Group(func(r chi.Router) {
				r.Use(AdminMiddleware(d.IsAdmin))
				r.Get("/admin/reconciliation", adminHandlers.Alerts())
				r.Post("/admin/reconciliation/{id}/resolve", adminHandlers.ResolveAlert())
				r.Post("/admin/users/{id}/tickets", adminHandlers.Tickets())
				r.Post("/admin/users/{id}/membership", adminHandlers.Membership())
			})
		})
	})
	return r
}
