package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceup-server/internal/config"
	"faceup-server/internal/game"
	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/pkg/retry"
	"faceup-server/internal/repository"
	"faceup-server/internal/service"
	"faceup-server/internal/testutil"
)

const testSecret = "test-secret"

type testServer struct {
	handler http.Handler
	tokens  *TokenVerifier
	store   *testutil.Accounts
	rounds  *testutil.Rounds
	alerts  *testutil.Alerts
	ready   *atomic.Bool
	dbErr   error
}

func newTestServer(t *testing.T, draftTTL time.Duration) *testServer {
	t.Helper()
	store := testutil.NewAccounts()
	rounds := testutil.NewRounds()
	alerts := testutil.NewAlerts()

	registry, err := game.NewRegistry(game.RulesFromConfig(config.GamesConfig{
		Classic:    config.ModeConfig{WinMultiplier: 2, BlackjackMultiplier: 3},
		AllIn:      config.ModeConfig{WinMultiplier: 2, BlackjackMultiplier: 3, RebatePercent: 10},
		HighStakes: config.ModeConfig{WinMultiplier: 3, BlackjackMultiplier: 5},
	})...)
	require.NoError(t, err)

	l := ledger.New(store, nil, lock.NewUserLock(), ledger.Options{})
	policy := retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	bets := service.NewBetService(repository.NewMemoryDraftRepository(), store, rounds, alerts, l, registry, lock.NewUserLock(),
		service.BetOptions{DraftTTL: draftTTL, Debit: policy, Credit: policy, Record: policy})
	accounts := service.NewAccountService(store, store, alerts, l, 5000, 3)

	ts := &testServer{
		tokens: NewTokenVerifier(testSecret, "faceup"),
		store:  store,
		rounds: rounds,
		alerts: alerts,
		ready:  &atomic.Bool{},
	}
	ts.handler = NewRouter(Deps{
		Bets:     bets,
		Accounts: accounts,
		Tokens:   ts.tokens,
		IsAdmin:  func(id string) bool { return id == "admin" },
		Checks: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return ts.dbErr }),
		},
		Ready: ts.ready,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(userID, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)

	code, body := ts.do(t, http.MethodPost, "/api/bets/prepare", "", map[string]any{"betId": "b1", "amount": 100})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, false, body["success"])

	code, _ = ts.do(t, http.MethodGet, "/api/user/coins", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	expired, err := ts.tokens.Issue("u-1", "alice", -time.Minute)
	require.NoError(t, err)
	code, _ = ts.do(t, http.MethodGet, "/api/user/coins", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	other, err := NewTokenVerifier("another-secret", "faceup").Issue("u-1", "alice", time.Hour)
	require.NoError(t, err)
	code, _ = ts.do(t, http.MethodGet, "/api/user/coins", other, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPrepareAndCommit(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)
	tok := ts.token(t, "u-1")

	code, body := ts.do(t, http.MethodPost, "/api/bets/prepare", tok, map[string]any{"betId": "b1", "amount": 1000})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	draft := body["betDraft"].(map[string]any)
	assert.Equal(t, "b1", draft["betId"])
	assert.Equal(t, float64(1000), draft["amount"])
	assert.Equal(t, "classic", draft["mode"])
	assert.Len(t, draft["seedHash"], 64)
	assert.NotEmpty(t, draft["expiresAt"])

	code, body = ts.do(t, http.MethodPost, "/api/bets/commit", tok, map[string]any{"betId": "b1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(1000), body["deductedAmount"])
	round := body["round"].(map[string]any)
	payout := round["payout"].(float64) + round["rebate"].(float64)
	assert.Equal(t, 5000-1000+payout, body["remainingCoins"])
	assert.Equal(t, draft["seedHash"], round["deckHash"])

	code, body = ts.do(t, http.MethodPost, "/api/bets/commit", tok, map[string]any{"betId": "b1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_consumed", body["error"])

	code, body = ts.do(t, http.MethodGet, "/api/user/coins", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5000-1000+payout, body["coins"])
	assert.Equal(t, float64(3), body["tickets"])

	code, body = ts.do(t, http.MethodGet, "/api/rounds/"+round["gameId"].(string), tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["verified"])

	code, body = ts.do(t, http.MethodGet, "/api/rounds/"+round["gameId"].(string), ts.token(t, "u-2"), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "round_not_found", body["error"])

	code, body = ts.do(t, http.MethodGet, "/api/rounds?limit=5", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rounds"], 1)

	code, body = ts.do(t, http.MethodGet, "/api/user/transactions", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["transactions"])

	code, body = ts.do(t, http.MethodPost, "/api/rounds/verify", "", map[string]any{
		"deckSeed": round["deckSeed"],
		"deckHash": round["deckHash"],
		"gameId":   round["gameId"],
		"betId":    "b1",
		"amount":   1000,
		"gameHash": round["gameHash"],
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["valid"])
}

func TestPrepareErrors(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)
	tok := ts.token(t, "u-1")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "{", http.StatusBadRequest, "invalid_json"},
		{"fractional amount", `{"betId":"b1","amount":1.5}`, http.StatusBadRequest, "invalid_json"},
		{"missing bet id", map[string]any{"amount": 10}, http.StatusBadRequest, "invalid_input"},
		{"zero amount", map[string]any{"betId": "b1", "amount": 0}, http.StatusBadRequest, "invalid_amount"},
		{"unknown mode", map[string]any{"betId": "b1", "amount": 10, "mode": "turbo"}, http.StatusBadRequest, "invalid_mode"},
		{"premium mode", map[string]any{"betId": "b1", "amount": 10, "mode": "high-stakes"}, http.StatusForbidden, "mode_forbidden"},
		{"over balance", map[string]any{"betId": "b1", "amount": 5001}, http.StatusConflict, "insufficient_funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/api/bets/prepare", tok, tt.body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	code, _ := ts.do(t, http.MethodPost, "/api/bets/prepare", tok, map[string]any{"betId": "dup", "amount": 10})
	require.Equal(t, http.StatusOK, code)
	code, body := ts.do(t, http.MethodPost, "/api/bets/prepare", tok, map[string]any{"betId": "dup", "amount": 10})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_bet_id", body["error"])
}

func TestCommitErrors(t *testing.T) {
	ts := newTestServer(t, 20*time.Millisecond)
	tok := ts.token(t, "u-1")

	code, body := ts.do(t, http.MethodPost, "/api/bets/commit", tok, map[string]any{"betId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "bet_not_found", body["error"])

	code, _ = ts.do(t, http.MethodPost, "/api/bets/prepare", tok, map[string]any{"betId": "b1", "amount": 10})
	require.Equal(t, http.StatusOK, code)
	time.Sleep(50 * time.Millisecond)
	code, body = ts.do(t, http.MethodPost, "/api/bets/commit", tok, map[string]any{"betId": "b1"})
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "expired", body["error"])

	bal, err := ts.store.Balance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal)
}

func TestCommitReconciliationRequired(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)
	tok := ts.token(t, "u-1")
	ts.rounds.FailCreate = func(*model.RoundRecord) error { return errors.New("insert failed") }

	code, _ := ts.do(t, http.MethodPost, "/api/bets/prepare", tok, map[string]any{"betId": "b1", "amount": 10})
	require.Equal(t, http.StatusOK, code)
	code, body := ts.do(t, http.MethodPost, "/api/bets/commit", tok, map[string]any{"betId": "b1"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "reconciliation_required", body["error"])
	assert.Len(t, ts.alerts.All(), 1)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)
	admin := ts.token(t, "admin")
	user := ts.token(t, "u-1")

	code, body := ts.do(t, http.MethodGet, "/api/admin/reconciliation", user, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])

	// Creates the account.
	code, _ = ts.do(t, http.MethodGet, "/api/user/coins", user, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, http.MethodPost, "/api/admin/users/u-1/tickets", admin, map[string]any{"delta": 2})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(5), body["user"].(map[string]any)["tickets"])

	code, body = ts.do(t, http.MethodPost, "/api/admin/users/u-1/membership", admin, map[string]any{"membership": "premium"})
	require.Equal(t, http.StatusOK, code, body)
	code, _ = ts.do(t, http.MethodPost, "/api/bets/prepare", user, map[string]any{"betId": "hs", "amount": 10, "mode": "high-stakes"})
	assert.Equal(t, http.StatusOK, code)

	alert := &model.ReconciliationAlert{BetID: "b9", UserID: "u-1", Stage: "credit", Amount: 30, CreatedAt: time.Now()}
	require.NoError(t, ts.alerts.Create(context.Background(), alert))

	code, body = ts.do(t, http.MethodGet, "/api/admin/reconciliation", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["alerts"], 1)

	code, body = ts.do(t, http.MethodPost, "/api/admin/reconciliation/"+alert.ID+"/resolve", admin, map[string]any{"adjustment": 30})
	require.Equal(t, http.StatusOK, code, body)
	bal, err := ts.store.Balance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5030), bal)

	code, body = ts.do(t, http.MethodPost, "/api/admin/reconciliation/"+alert.ID+"/resolve", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "alert_not_found", body["error"])
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, 2*time.Minute)

	code, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	ts.dbErr = errors.New("connection refused")
	code, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", body["deps"].(map[string]any)["postgres"])

	code, _ = ts.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	ts.ready.Store(true)
	code, _ = ts.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"?limit=10", 10},
		{"?limit=0", 1},
		{"?limit=9999", 500},
		{"?limit=abc", 50},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/rounds"+tt.query, nil)
		assert.Equal(t, tt.want, ParseLimit(r), tt.query)
	}
}
