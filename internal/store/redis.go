package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only data that is cheap to invalidate is cached: participants by id,
// settled rounds (immutable once settled) and the recent-results strip.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateParticipant(ctx context.Context, p *model.Participant) (*model.Participant, bool, error) {
	got, created, err := s.primary.CreateParticipant(ctx, p)
	if err != nil {
		return nil, false, err
	}
	s.cacheJSON(ctx, participantKey(got.ID), got)
	return got, created, nil
}

func (s *CachedStore) UpdateParticipant(ctx context.Context, id string, fn func(p *model.Participant) error) (*model.Participant, error) {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.UpdateParticipant(ctx, id, fn)
}

func (s *CachedStore) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Participant, error) {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.AdjustBalance(ctx, id, delta)
}

func (s *CachedStore) SetDefaultBet(ctx context.Context, id string, amount decimal.Decimal) error {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.SetDefaultBet(ctx, id, amount)
}

func (s *CachedStore) SetDailyCooldown(ctx context.Context, id string, at time.Time) error {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.SetDailyCooldown(ctx, id, at)
}

func (s *CachedStore) SetTradeURL(ctx context.Context, id string, url string) error {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.SetTradeURL(ctx, id, url)
}

func (s *CachedStore) DeleteParticipant(ctx context.Context, id string) error {
	defer s.rdb.Del(ctx, participantKey(id))
	return s.primary.DeleteParticipant(ctx, id)
}

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.CreateRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, recentRoundsKey)
	return nil
}

func (s *CachedStore) PlaceBet(ctx context.Context, b *model.Bet) (*model.Participant, error) {
	defer s.rdb.Del(ctx, participantKey(b.ParticipantID))
	return s.primary.PlaceBet(ctx, b)
}

func (s *CachedStore) SettleRound(ctx context.Context, roundID string, settledAt time.Time, settlements []model.BetSettlement) error {
	err := s.primary.SettleRound(ctx, roundID, settledAt, settlements)

	keys := make([]string, 0, len(settlements)+1)
	keys = append(keys, recentRoundsKey)
	for _, st := range settlements {
		keys = append(keys, participantKey(st.ParticipantID))
	}
	s.rdb.Del(ctx, keys...)
	return err
}

// --- Read-through (check cache first) ---

// GetParticipant reads through the cache. A write that commits and
// invalidates between the primary read and the cache fill leaves the older
// copy cached until the TTL expires. Reads from the cache are for display
// and default amounts; balance checks run inside the primary's
// transactions.
func (s *CachedStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	if s.readJSON(ctx, participantKey(id), &p) {
		return &p, nil
	}

	got, err := s.primary.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, participantKey(id), got)
	return got, nil
}

func (s *CachedStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	var r model.Round
	if s.readJSON(ctx, roundKey(id), &r) {
		return &r, nil
	}

	got, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if got.Settled() {
		s.cacheJSON(ctx, roundKey(id), got)
	}
	return got, nil
}

func (s *CachedStore) ListRecentRounds(ctx context.Context, n int) ([]model.Round, error) {
	var cached []model.Round
	if s.readJSON(ctx, recentRoundsKey, &cached) && len(cached) >= n {
		return cached[len(cached)-n:], nil
	}

	rounds, err := s.primary.ListRecentRounds(ctx, n)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, recentRoundsKey, rounds)
	return rounds, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetParticipantStats(ctx context.Context, id string) (*model.ParticipantStats, error) {
	return s.primary.GetParticipantStats(ctx, id)
}

func (s *CachedStore) ListParticipantStats(ctx context.Context) ([]model.ParticipantStats, error) {
	return s.primary.ListParticipantStats(ctx)
}

func (s *CachedStore) GetCurrentRound(ctx context.Context) (*model.Round, error) {
	return s.primary.GetCurrentRound(ctx)
}

func (s *CachedStore) CountRounds(ctx context.Context) (int64, error) {
	return s.primary.CountRounds(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, participantID, roundID string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, participantID, roundID)
}

func (s *CachedStore) ListBetsByRound(ctx context.Context, roundID string) ([]model.Bet, error) {
	return s.primary.ListBetsByRound(ctx, roundID)
}

func (s *CachedStore) ListBetsByParticipant(ctx context.Context, participantID string) ([]model.Bet, error) {
	return s.primary.ListBetsByParticipant(ctx, participantID)
}

func (s *CachedStore) GetState(ctx context.Context, key string) (string, error) {
	return s.primary.GetState(ctx, key)
}

func (s *CachedStore) SetState(ctx context.Context, key, value string) error {
	return s.primary.SetState(ctx, key, value)
}

func (s *CachedStore) UpsertItem(ctx context.Context, item *model.Item) error {
	return s.primary.UpsertItem(ctx, item)
}

func (s *CachedStore) ListItemsByParticipant(ctx context.Context, participantID string) ([]model.Item, error) {
	return s.primary.ListItemsByParticipant(ctx, participantID)
}

func (s *CachedStore) UpdateItemPrices(ctx context.Context, itemID string, buy, sell *decimal.Decimal, pricedAt time.Time) error {
	return s.primary.UpdateItemPrices(ctx, itemID, buy, sell, pricedAt)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) readJSON(ctx context.Context, key string, v interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

const recentRoundsKey = "roulette:rounds:recent"

func participantKey(id string) string { return fmt.Sprintf("roulette:participant:%s", id) }
func roundKey(id string) string       { return fmt.Sprintf("roulette:round:%s", id) }
