// Package market prices participants' inventory items through an external
// oracle. Oracle prices are in a foreign currency and are converted with an
// FX rate fetched at most once per day and persisted as "rate,date" state.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/metrics"
	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/retry"
	"github.com/spinroom/roulette-engine/internal/store"
)

var (
	// ErrOracleUnavailable is returned when an item could not be priced.
	ErrOracleUnavailable = errors.New("market: pricing oracle unavailable")

	// ErrInvalidItem is returned for an empty item name.
	ErrInvalidItem = errors.New("market: item name is required")
)

// FXStateKey is the key-value state entry holding "rate,date".
const FXStateKey = "fx_rate"

const dateLayout = "2006-01-02"

// Pricer fetches quotes and exchange rates. *Client implements it.
type Pricer interface {
	Quote(ctx context.Context, item string) (Quote, error)
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// Service owns inventory pricing.
type Service struct {
	store  store.Store
	pricer Pricer
	policy *retry.Policy
	memo   *cache.Cache
	log    *slog.Logger
	now    func() time.Time
}

// NewService creates a pricing service. quoteTTL bounds how long a fetched
// quote is reused in-process.
func NewService(st store.Store, pricer Pricer, policy *retry.Policy, quoteTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		pricer: pricer,
		policy: policy,
		memo:   cache.New(quoteTTL, 2*quoteTTL),
		log:    log.With(slog.String("component", "market")),
		now:    time.Now,
	}
}

// AddItem records an item in the participant's inventory, unpriced.
func (s *Service) AddItem(ctx context.Context, participantID, name string) (*model.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidItem
	}
	if _, err := s.store.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	item := &model.Item{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Name:          name,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.UpsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	return item, nil
}

// Items returns the participant's inventory.
func (s *Service) Items(ctx context.Context, participantID string) ([]model.Item, error) {
	if _, err := s.store.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	return s.store.ListItemsByParticipant(ctx, participantID)
}

// RefreshInventory re-prices every item the participant owns. An item the
// oracle cannot price is stored unpriced; it never fails the refresh.
func (s *Service) RefreshInventory(ctx context.Context, participantID string) ([]model.Item, error) {
	const op = "market.RefreshInventory"
	log := s.log.With(sl.Op(op), slog.String("participant_id", participantID))

	items, err := s.Items(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	rate, rateErr := s.Rate(ctx)
	if rateErr != nil {
		log.Warn("fx rate unavailable, inventory left unpriced", sl.Err(rateErr))
	}

	pricedAt := s.now().UTC()
	for i := range items {
		var buy, sell *decimal.Decimal
		if rateErr == nil {
			bp, sp, err := s.Price(ctx, items[i].Name, rate)
			if err != nil {
				log.Warn("item unpriced", slog.String("item", items[i].Name), sl.Err(err))
			} else {
				buy, sell = &bp, &sp
			}
		}
		if err := s.store.UpdateItemPrices(ctx, items[i].ID, buy, sell, pricedAt); err != nil {
			return nil, fmt.Errorf("store prices for %s: %w", items[i].ID, err)
		}
		items[i].BuyPrice, items[i].SellPrice = buy, sell
		at := pricedAt
		items[i].PricedAt = &at
	}
	return items, nil
}

// Price converts the oracle quote for an item with rate. Failures wrap
// ErrOracleUnavailable.
func (s *Service) Price(ctx context.Context, item string, rate decimal.Decimal) (buy, sell decimal.Decimal, err error) {
	q, err := s.quote(ctx, item)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return q.Buy.Mul(rate).Round(model.MoneyScale), q.Sell.Mul(rate).Round(model.MoneyScale), nil
}

func (s *Service) quote(ctx context.Context, item string) (Quote, error) {
	key := "quote:" + item
	if v, ok := s.memo.Get(key); ok {
		return v.(Quote), nil
	}

	var q Quote
	err := s.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.pricer.Quote(ctx, item)
		return err
	})
	if err != nil {
		metrics.OracleRequests.WithLabelValues("quote", "failure").Inc()
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, item, err)
	}
	metrics.OracleRequests.WithLabelValues("quote", "success").Inc()
	s.memo.Set(key, q, cache.DefaultExpiration)
	return q, nil
}

// Rate returns today's FX rate, fetching it only when the persisted rate
// is from an earlier day.
func (s *Service) Rate(ctx context.Context) (decimal.Decimal, error) {
	today := s.now().UTC().Format(dateLayout)
	key := "fx:" + today
	if v, ok := s.memo.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	if raw, err := s.store.GetState(ctx, FXStateKey); err == nil {
		if rate, date, perr := ParseRate(raw); perr == nil && date == today {
			s.memo.Set(key, rate, 24*time.Hour)
			return rate, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("load fx rate: %w", err)
	}

	var rate decimal.Decimal
	err := s.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		rate, err = s.pricer.Rate(ctx)
		return err
	})
	if err != nil {
		metrics.OracleRequests.WithLabelValues("fx", "failure").Inc()
		return decimal.Zero, fmt.Errorf("%w: fx rate: %v", ErrOracleUnavailable, err)
	}
	metrics.OracleRequests.WithLabelValues("fx", "success").Inc()

	if err := s.store.SetState(ctx, FXStateKey, FormatRate(rate, today)); err != nil {
		s.log.Warn("persist fx rate failed", sl.Err(err))
	}
	s.memo.Set(key, rate, 24*time.Hour)
	return rate, nil
}

// FormatRate encodes a rate and its day as "rate,date".
func FormatRate(rate decimal.Decimal, date string) string {
	return rate.String() + "," + date
}

// ParseRate decodes a "rate,date" state value.
func ParseRate(raw string) (decimal.Decimal, string, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return decimal.Zero, "", fmt.Errorf("malformed fx state %q", raw)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("fx rate %q: %w", parts[0], err)
	}
	date := strings.TrimSpace(parts[1])
	if _, err := time.Parse(dateLayout, date); err != nil {
		return decimal.Zero, "", fmt.Errorf("fx date %q: %w", date, err)
	}
	return rate, date, nil
}
