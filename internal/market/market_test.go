package market_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/market"
	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/retry"
	"github.com/spinroom/roulette-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type stubPricer struct {
	quotes    map[string]market.Quote
	rate      decimal.Decimal
	rateErr   error
	quoteHits atomic.Int32
	rateHits  atomic.Int32
}

func (p *stubPricer) Quote(_ context.Context, item string) (market.Quote, error) {
	p.quoteHits.Add(1)
	q, ok := p.quotes[item]
	if !ok {
		return market.Quote{}, &retry.StatusError{Code: http.StatusServiceUnavailable}
	}
	return q, nil
}

func (p *stubPricer) Rate(context.Context) (decimal.Decimal, error) {
	p.rateHits.Add(1)
	return p.rate, p.rateErr
}

func newTestService(t *testing.T, pricer market.Pricer) (*market.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	_, _, err := ms.CreateParticipant(context.Background(), &model.Participant{
		ID: "p1", Name: "p1", Balance: d(100), Level: 1, DefaultBet: d(1), CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	svc := market.NewService(ms, pricer, retry.NewPolicy(retry.DefaultAttempts, time.Millisecond), time.Minute, nil)
	return svc, ms
}

func TestRefreshInventory_PricesAndDegrades(t *testing.T) {
	pricer := &stubPricer{
		quotes: map[string]market.Quote{"AK-47 | Redline": {Buy: d(10), Sell: d(8.5)}},
		rate:   d(1.5),
	}
	svc, ms := newTestService(t, pricer)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "p1", "AK-47 | Redline"); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.AddItem(ctx, "p1", "Unknown Sticker"); err != nil {
		t.Fatalf("add item: %v", err)
	}

	items, err := svc.RefreshInventory(ctx, "p1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].BuyPrice == nil || !items[0].BuyPrice.Equal(d(15)) || !items[0].SellPrice.Equal(d(12.75)) {
		t.Errorf("priced item = %+v", items[0])
	}
	if items[1].BuyPrice != nil || items[1].SellPrice != nil {
		t.Errorf("unknown item should be unpriced: %+v", items[1])
	}
	if got := pricer.quoteHits.Load(); got != 1+retry.DefaultAttempts {
		t.Errorf("quote calls = %d, want %d", got, 1+retry.DefaultAttempts)
	}

	stored, _ := ms.ListItemsByParticipant(ctx, "p1")
	if stored[0].BuyPrice == nil || stored[0].PricedAt == nil || stored[1].BuyPrice != nil {
		t.Errorf("stored prices = %+v", stored)
	}
}

func TestRate_PersistedOncePerDay(t *testing.T) {
	pricer := &stubPricer{rate: d(83.1)}
	svc, ms := newTestService(t, pricer)
	ctx := context.Background()

	rate, err := svc.Rate(ctx)
	if err != nil || !rate.Equal(d(83.1)) {
		t.Fatalf("rate = %s err=%v", rate, err)
	}
	if _, err := svc.Rate(ctx); err != nil {
		t.Fatalf("second rate: %v", err)
	}
	if pricer.rateHits.Load() != 1 {
		t.Errorf("fx fetches = %d, want 1", pricer.rateHits.Load())
	}

	raw, err := ms.GetState(ctx, market.FXStateKey)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	want := fmt.Sprintf("83.1,%s", time.Now().UTC().Format("2006-01-02"))
	if raw != want {
		t.Errorf("state = %q, want %q", raw, want)
	}
}

func TestRate_UsesPersistedRateFromToday(t *testing.T) {
	pricer := &stubPricer{rate: d(1)}
	svc, ms := newTestService(t, pricer)
	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")
	ms.SetState(ctx, market.FXStateKey, "90.25,"+today)

	rate, err := svc.Rate(ctx)
	if err != nil || !rate.Equal(d(90.25)) {
		t.Fatalf("rate = %s err=%v, want 90.25", rate, err)
	}
	if pricer.rateHits.Load() != 0 {
		t.Errorf("fx fetched despite fresh state")
	}
}

func TestRate_StaleStateRefetched(t *testing.T) {
	pricer := &stubPricer{rate: d(2)}
	svc, ms := newTestService(t, pricer)
	ctx := context.Background()
	ms.SetState(ctx, market.FXStateKey, "90.25,2001-01-01")

	rate, err := svc.Rate(ctx)
	if err != nil || !rate.Equal(d(2)) {
		t.Fatalf("rate = %s err=%v, want 2", rate, err)
	}
	if pricer.rateHits.Load() != 1 {
		t.Errorf("fx fetches = %d, want 1", pricer.rateHits.Load())
	}
}

func TestRefreshInventory_FXDownLeavesUnpriced(t *testing.T) {
	pricer := &stubPricer{
		quotes:  map[string]market.Quote{"Knife": {Buy: d(100), Sell: d(90)}},
		rateErr: errors.New("fx down"),
	}
	svc, _ := newTestService(t, pricer)
	ctx := context.Background()
	svc.AddItem(ctx, "p1", "Knife")

	items, err := svc.RefreshInventory(ctx, "p1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if items[0].BuyPrice != nil {
		t.Errorf("item priced without fx rate: %+v", items[0])
	}
	if pricer.rateHits.Load() != retry.DefaultAttempts {
		t.Errorf("fx attempts = %d, want %d", pricer.rateHits.Load(), retry.DefaultAttempts)
	}
}

func TestAddItem_Validation(t *testing.T) {
	svc, _ := newTestService(t, &stubPricer{})
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "p1", "  "); !errors.Is(err, market.ErrInvalidItem) {
		t.Errorf("err = %v, want ErrInvalidItem", err)
	}
	if _, err := svc.AddItem(ctx, "ghost", "Knife"); !errors.Is(err, store.ErrNotRegistered) {
		t.Errorf("err = %v, want ErrNotRegistered", err)
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"83.10,2026-01-02", false},
		{"83.10", true},
		{"abc,2026-01-02", true},
		{"83.10,yesterday", true},
	}
	for _, tt := range tests {
		_, _, err := market.ParseRate(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRate(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

// --- HTTP client ---

func TestClient_QuoteRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Query().Get("item") != "Knife" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"buy":"12.50","sell":"11.00"}`)
	}))
	defer srv.Close()

	client := market.NewClient(srv.URL, srv.URL, time.Second)
	policy := retry.NewPolicy(retry.DefaultAttempts, time.Millisecond)

	var q market.Quote
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		var err error
		q, err = client.Quote(ctx, "Knife")
		return err
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Buy.Equal(d(12.5)) || !q.Sell.Equal(d(11)) {
		t.Errorf("quote = %+v", q)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := market.NewClient(srv.URL, srv.URL, time.Second)
	policy := retry.NewPolicy(retry.DefaultAttempts, time.Millisecond)
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		_, err := client.Quote(ctx, "Nothing")
		return err
	})
	if err == nil || errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v, want permanent failure", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_Rate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rate":83.25}`)
	}))
	defer srv.Close()

	rate, err := market.NewClient(srv.URL, srv.URL, time.Second).Rate(context.Background())
	if err != nil || !rate.Equal(d(83.25)) {
		t.Errorf("rate = %s err=%v", rate, err)
	}
}
