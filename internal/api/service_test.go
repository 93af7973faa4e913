package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/api"
	"github.com/spinroom/roulette-engine/internal/engine"
	"github.com/spinroom/roulette-engine/internal/market"
	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/progression"
	"github.com/spinroom/roulette-engine/internal/retry"
	"github.com/spinroom/roulette-engine/internal/store"
)

var secret = []byte("test-secret")

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixedOutcome int

func (f fixedOutcome) Next(context.Context) int { return int(f) }

type stubPricer struct{}

func (stubPricer) Quote(_ context.Context, item string) (market.Quote, error) {
	if item == "Knife" {
		return market.Quote{Buy: d(100), Sell: d(90)}, nil
	}
	return market.Quote{}, retry.Permanent(&retry.StatusError{Code: http.StatusNotFound})
}

func (stubPricer) Rate(context.Context) (decimal.Decimal, error) { return d(2), nil }

type testEnv struct {
	eng    *engine.Engine
	ms     *store.MemoryStore
	router chi.Router
	events <-chan engine.Event
	token  string
}

// newTestEnv creates a running engine over an in-memory store and the
// full API router.
func newTestEnv(t *testing.T, withMarket bool) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	cfg := engine.Config{
		BettingWindow:   2 * time.Second,
		RevealFrameRate: 5,
		TickInterval:    100 * time.Millisecond,
		RecentResults:   8,
	}
	eng := engine.New(ms, fixedOutcome(3), progression.Default(), cfg, nil)
	events, unsubscribe := eng.Subscribe("test", 1024)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})

	var mkt *market.Service
	if withMarket {
		mkt = market.NewService(ms, stubPricer{}, retry.NewPolicy(retry.DefaultAttempts, time.Millisecond), time.Minute, nil)
	}
	svc := api.NewService(eng, mkt, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Mount(r, nil, api.AdminAuth(secret))
	})

	token, err := api.IssueAdminToken(secret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &testEnv{eng: eng, ms: ms, router: r, events: events, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/participants", api.RegisterRequest{UserID: id, Name: "name-" + id}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", id, w.Code, w.Body.String())
	}
}

// openRound starts the loop through the admin API and waits for betting
// to open. The loop is stopped again when the test ends.
func (e *testEnv) openRound(t *testing.T) {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/admin/engine/start", nil, e.token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	t.Cleanup(e.eng.Stop)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-e.events:
			if ev.Type == engine.EventRoundOpened {
				return
			}
		case <-timeout:
			t.Fatal("round did not open")
		}
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

// --- Participants ---

func TestRegister_CreatedThenExisting(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "POST", "/api/v1/participants", api.RegisterRequest{UserID: "u1", Name: "other"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing participant, got %d", w.Code)
	}
	var p model.Participant
	json.NewDecoder(w.Body).Decode(&p)
	if p.Name != "name-u1" || !p.Balance.Equal(d(100)) {
		t.Errorf("participant = %+v", p)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, "POST", "/api/v1/participants", map[string]string{"name": "x"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w).Error; !strings.Contains(msg, "field user_id is required") {
		t.Errorf("error = %q", msg)
	}
}

func TestGetStats_NotRegistered(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, "GET", "/api/v1/participants/ghost", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "GET", "/api/v1/participants/u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st engine.Stats
	json.NewDecoder(w.Body).Decode(&st)
	if st.ID != "u1" || st.Level != 1 || st.TotalBets != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestClaimDaily_CooldownReturns429(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "POST", "/api/v1/participants/u1/daily", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("first claim: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/v1/participants/u1/daily", nil, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second claim: expected 429, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.RetryAfterSeconds <= 0 {
		t.Errorf("retry_after_seconds = %d", resp.RetryAfterSeconds)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestSetDefaultBetAndTradeURL(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "PUT", "/api/v1/participants/u1/default-bet", api.AmountRequest{Amount: d(2.5)}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("default bet: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, "PUT", "/api/v1/participants/u1/default-bet", api.AmountRequest{Amount: d(-1)}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative default bet: expected 400, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/participants/u1/trade-url", api.TradeURLRequest{URL: "not a url"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad url: expected 400, got %d", w.Code)
	}
	w = env.do(t, "PUT", "/api/v1/participants/u1/trade-url", api.TradeURLRequest{URL: "https://market.example/trade?id=1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("trade url: %d %s", w.Code, w.Body.String())
	}

	p, _ := env.ms.GetParticipant(context.Background(), "u1")
	if !p.DefaultBet.Equal(d(2.5)) || p.TradeURL != "https://market.example/trade?id=1" {
		t.Errorf("participant = %+v", p)
	}
}

// --- Bets ---

func TestPlaceBet_ClosedWhenIdle(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "POST", "/api/v1/bets", api.BetRequest{UserID: "u1", Color: "RED"}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		body interface{}
	}{
		{"bad color", api.BetRequest{UserID: "u1", Color: "BLUE"}},
		{"missing user", api.BetRequest{Color: "RED"}},
		{"garbage", "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/v1/bets", tt.body, ""); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestPlaceBet_Lifecycle(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")
	env.register(t, "u2")
	env.openRound(t)

	amount := d(10)
	w := env.do(t, "POST", "/api/v1/bets", api.BetRequest{UserID: "u1", Color: "red", Amount: &amount}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("bet: %d %s", w.Code, w.Body.String())
	}
	var receipt engine.BetReceipt
	json.NewDecoder(w.Body).Decode(&receipt)
	if receipt.Bet.Color != model.Red || !receipt.Balance.Equal(d(90)) {
		t.Errorf("receipt = %+v", receipt)
	}

	w = env.do(t, "POST", "/api/v1/bets", api.BetRequest{UserID: "u1", Color: "BLACK"}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", w.Code)
	}

	big := d(1000)
	w = env.do(t, "POST", "/api/v1/bets", api.BetRequest{UserID: "u2", Color: "GREEN", Amount: &big}, "")
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("insufficient: expected 402, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/bets", api.BetRequest{UserID: "ghost", Color: "GREEN"}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unregistered: expected 404, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/rounds/current", nil, "")
	var snap engine.Snapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.State != engine.StateOpen || len(snap.Bets) != 1 || snap.ResultNumber != nil {
		t.Errorf("snapshot = %+v", snap)
	}

	w = env.do(t, "GET", "/api/v1/rounds/"+snap.RoundID+"/bets", nil, "")
	var bets []model.Bet
	json.NewDecoder(w.Body).Decode(&bets)
	if w.Code != http.StatusOK || len(bets) != 1 {
		t.Errorf("round bets: %d %v", w.Code, bets)
	}

	w = env.do(t, "GET", "/api/v1/participants/u1/bets", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("participant bets: %d", w.Code)
	}
}

func TestRoundBets_UnknownRound(t *testing.T) {
	env := newTestEnv(t, false)
	if w := env.do(t, "GET", "/api/v1/rounds/nope/bets", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, false)
	for _, id := range []string{"a", "b", "c"} {
		env.register(t, id)
	}
	env.eng.AdjustBalance(context.Background(), "c", d(25))

	w := env.do(t, "GET", "/api/v1/leaderboard?n=2", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var top []model.ParticipantStats
	json.NewDecoder(w.Body).Decode(&top)
	if len(top) != 2 || top[0].ID != "c" || top[1].ID != "a" {
		t.Errorf("leaderboard = %+v", top)
	}
}

func TestRecentRounds_Empty(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, "GET", "/api/v1/rounds/recent", nil, "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("recent = %d %s", w.Code, w.Body.String())
	}
}

// --- Admin ---

func TestAdmin_RequiresToken(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(t, "POST", "/api/v1/admin/engine/stop", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/admin/engine/stop", nil, "garbage"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}

	player, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, api.AdminClaims{
		Role:             "player",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)
	if w := env.do(t, "POST", "/api/v1/admin/engine/stop", nil, player); w.Code != http.StatusForbidden {
		t.Errorf("player token: expected 403, got %d", w.Code)
	}

	other, _ := api.IssueAdminToken([]byte("other-secret"), "ops", time.Hour)
	if w := env.do(t, "POST", "/api/v1/admin/engine/stop", nil, other); w.Code != http.StatusUnauthorized {
		t.Errorf("foreign token: expected 401, got %d", w.Code)
	}
}

func TestAdmin_StartTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, false)
	env.openRound(t)

	if w := env.do(t, "POST", "/api/v1/admin/engine/start", nil, env.token); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestAdmin_SetWindow(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(t, "PUT", "/api/v1/admin/engine/window", api.WindowRequest{Seconds: 20}, env.token); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.eng.BettingWindow() != 20*time.Second {
		t.Errorf("window = %v", env.eng.BettingWindow())
	}
	if w := env.do(t, "PUT", "/api/v1/admin/engine/window", api.WindowRequest{Seconds: 0}, env.token); w.Code != http.StatusBadRequest {
		t.Errorf("zero window: expected 400, got %d", w.Code)
	}
}

func TestAdmin_AdjustAndDelete(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")

	w := env.do(t, "POST", "/api/v1/admin/participants/u1/adjust", api.AmountRequest{Amount: d(-30)}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", w.Code, w.Body.String())
	}
	var p model.Participant
	json.NewDecoder(w.Body).Decode(&p)
	if !p.Balance.Equal(d(70)) {
		t.Errorf("balance = %s, want 70", p.Balance)
	}

	w = env.do(t, "POST", "/api/v1/admin/participants/u1/adjust", api.AmountRequest{Amount: d(-500)}, env.token)
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("overdraw: expected 402, got %d", w.Code)
	}

	if w := env.do(t, "DELETE", "/api/v1/admin/participants/u1", nil, env.token); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/v1/admin/participants/u1", nil, env.token); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestAdmin_DisabledWithoutSecret(t *testing.T) {
	h := api.AdminAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// --- Marketplace ---

func TestItems_NotConfigured(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "u1")
	if w := env.do(t, "GET", "/api/v1/participants/u1/items", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestItems_AddAndRefresh(t *testing.T) {
	env := newTestEnv(t, true)
	env.register(t, "u1")

	for _, name := range []string{"Knife", "Mystery Case"} {
		if w := env.do(t, "POST", "/api/v1/participants/u1/items", api.ItemRequest{Name: name}, ""); w.Code != http.StatusCreated {
			t.Fatalf("add %s: %d %s", name, w.Code, w.Body.String())
		}
	}
	if w := env.do(t, "POST", "/api/v1/participants/u1/items", api.ItemRequest{}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", w.Code)
	}

	w := env.do(t, "POST", "/api/v1/participants/u1/items/refresh", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	var items []model.Item
	json.NewDecoder(w.Body).Decode(&items)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].BuyPrice == nil || !items[0].BuyPrice.Equal(d(200)) {
		t.Errorf("knife price = %v, want 200", items[0].BuyPrice)
	}
	if items[1].BuyPrice != nil {
		t.Errorf("unknown item should be unpriced, got %v", items[1].BuyPrice)
	}
}

// --- WebSocket ---

func TestWS_SnapshotThenEvents(t *testing.T) {
	env := newTestEnv(t, false)
	hub := api.NewWSHub(env.eng.Snapshot, nil)
	feed, unsubscribe := env.eng.Subscribe("ws", 256)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, feed)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Fatalf("first message = %q, want snapshot", msg.Type)
	}

	if err := env.eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer env.eng.Stop()

	for {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Type == string(engine.EventRoundOpened) {
			break
		}
	}
	if hub.ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", hub.ClientCount())
	}
}
