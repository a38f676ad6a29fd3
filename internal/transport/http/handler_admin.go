package httptransport

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"faceup-server/internal/service"
)

type AdminHandlers struct {
	accounts *service.AccountService
}

func NewAdminHandlers(accounts *service.AccountService) *AdminHandlers {
	return &AdminHandlers{accounts: accounts}
}

// Alerts handles GET /api/admin/reconciliation.
func (h *AdminHandlers) Alerts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := h.accounts.ListAlerts(r.Context(), ParseLimit(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "alerts": alerts})
	}
}

// ResolveAlert handles POST /api/admin/reconciliation/{id}/resolve.
func (h *AdminHandlers) ResolveAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Adjustment int64 `json:"adjustment"`
		}
		if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
			return
		}
		alert, err := h.accounts.ResolveAlert(r.Context(), chi.URLParam(r, "id"), body.Adjustment)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "alert": alert})
	}
}

// Tickets handles POST /api/admin/users/{id}/tickets.
func (h *AdminHandlers) Tickets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Delta int `json:"delta"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		user, err := h.accounts.GrantTickets(r.Context(), chi.URLParam(r, "id"), body.Delta)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	}
}

// Membership handles POST /api/admin/users/{id}/membership.
func (h *AdminHandlers) Membership() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Membership string     `json:"membership"`
			ExpiresAt  *time.Time `json:"expiresAt"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		user, err := h.accounts.SetMembership(r.Context(), chi.URLParam(r, "id"), body.Membership, body.ExpiresAt)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	}
}

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandlers struct {
	checks map[string]Pinger
	ready  *atomic.Bool
}

func NewHealthHandlers(checks map[string]Pinger, ready *atomic.Bool) *HealthHandlers {
	return &HealthHandlers{checks: checks, ready: ready}
}

// Health handles GET /healthz by pinging every dependency.
func (h *HealthHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(h.checks))
		for name, c := range h.checks {
			if err := c.Ping(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "deps": deps})
	}
}

// Ready handles GET /ready.
func (h *HealthHandlers) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if h.ready == nil || !h.ready.Load() {
			WriteHTTPError(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
