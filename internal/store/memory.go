package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
)

type betKey struct {
	participantID string
	roundID       string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]*model.Participant
	rounds       []*model.Round // creation order
	roundIdx     map[string]*model.Round
	bets         []*model.Bet // placement order
	betIdx       map[betKey]*model.Bet
	items        []*model.Item
	state        map[string]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]*model.Participant),
		roundIdx:     make(map[string]*model.Round),
		betIdx:       make(map[betKey]*model.Bet),
		state:        make(map[string]string),
	}
}

// --- Participants ---

func (s *MemoryStore) CreateParticipant(_ context.Context, p *model.Participant) (*model.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.participants[p.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	// Store a copy to avoid external mutation.
	cp := *p
	cp.Balance = cp.Balance.Round(model.MoneyScale)
	s.participants[p.ID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, id string, fn func(p *model.Participant) error) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, fn)
}

// updateLocked applies fn to a scratch copy and commits it only on success.
func (s *MemoryStore) updateLocked(id string, fn func(p *model.Participant) error) (*model.Participant, error) {
	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	scratch := *p
	if err := fn(&scratch); err != nil {
		return nil, err
	}
	scratch.ID = p.ID
	scratch.Balance = scratch.Balance.Round(model.MoneyScale)
	*p = scratch
	out := scratch
	return &out, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(id, func(p *model.Participant) error {
		next := p.Balance.Add(delta).Round(model.MoneyScale)
		if next.IsNegative() {
			return fmt.Errorf("adjust %s by %s: %w", id, delta, ErrInsufficientBalance)
		}
		p.Balance = next
		return nil
	})
}

func (s *MemoryStore) SetDefaultBet(_ context.Context, id string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(p *model.Participant) error {
		p.DefaultBet = amount.Round(model.MoneyScale)
		return nil
	})
	return err
}

func (s *MemoryStore) SetDailyCooldown(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(p *model.Participant) error {
		p.DailyCooldown = at
		return nil
	})
	return err
}

func (s *MemoryStore) SetTradeURL(_ context.Context, id string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(p *model.Participant) error {
		p.TradeURL = url
		return nil
	})
	return err
}

func (s *MemoryStore) DeleteParticipant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[id]; !ok {
		return fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	delete(s.participants, id)

	bets := s.bets[:0]
	for _, b := range s.bets {
		if b.ParticipantID == id {
			delete(s.betIdx, betKey{b.ParticipantID, b.RoundID})
			continue
		}
		bets = append(bets, b)
	}
	s.bets = bets

	items := s.items[:0]
	for _, it := range s.items {
		if it.ParticipantID != id {
			items = append(items, it)
		}
	}
	s.items = items
	return nil
}

func (s *MemoryStore) GetParticipantStats(_ context.Context, id string) (*model.ParticipantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	st := model.ParticipantStats{Participant: *p, TotalWagered: decimal.Zero}
	for _, b := range s.bets {
		if b.ParticipantID == id {
			st.TotalBets++
			st.TotalWagered = st.TotalWagered.Add(b.Amount)
		}
	}
	return &st, nil
}

func (s *MemoryStore) ListParticipantStats(_ context.Context) ([]model.ParticipantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Aggregate from bets (single lock, no re-entrant calls).
	agg := make(map[string]*model.ParticipantStats, len(s.participants))
	for id, p := range s.participants {
		agg[id] = &model.ParticipantStats{Participant: *p, TotalWagered: decimal.Zero}
	}
	for _, b := range s.bets {
		if st, ok := agg[b.ParticipantID]; ok {
			st.TotalBets++
			st.TotalWagered = st.TotalWagered.Add(b.Amount)
		}
	}

	out := make([]model.ParticipantStats, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Rounds ---

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roundIdx[r.ID]; ok {
		return fmt.Errorf("round %s already exists", r.ID)
	}
	cp := *r
	s.rounds = append(s.rounds, &cp)
	s.roundIdx[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roundIdx[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, ErrRoundNotFound)
	}
	return copyRound(r), nil
}

func (s *MemoryStore) GetCurrentRound(_ context.Context) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.rounds) == 0 {
		return nil, nil
	}
	return copyRound(s.rounds[len(s.rounds)-1]), nil
}

func (s *MemoryStore) ListRecentRounds(_ context.Context, n int) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	start := len(s.rounds) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.Round, 0, len(s.rounds)-start)
	for _, r := range s.rounds[start:] {
		out = append(out, *copyRound(r))
	}
	return out, nil
}

func (s *MemoryStore) CountRounds(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rounds)), nil
}

func copyRound(r *model.Round) *model.Round {
	cp := *r
	if r.SettledAt != nil {
		t := *r.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

// --- Bets ---

func (s *MemoryStore) PlaceBet(_ context.Context, b *model.Bet) (*model.Participant, error) {
	if !b.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roundIdx[b.RoundID]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", b.RoundID, ErrRoundNotFound)
	}
	if r.Settled() {
		return nil, fmt.Errorf("round %s: %w", b.RoundID, ErrAlreadySettled)
	}
	key := betKey{b.ParticipantID, b.RoundID}
	if _, dup := s.betIdx[key]; dup {
		return nil, ErrDuplicateBet
	}

	var before decimal.Decimal
	p, err := s.updateLocked(b.ParticipantID, func(p *model.Participant) error {
		if b.Amount.GreaterThan(p.Balance) {
			return fmt.Errorf("bet %s > balance %s: %w", b.Amount, p.Balance, ErrInsufficientBalance)
		}
		before = p.Balance
		p.Balance = p.Balance.Sub(b.Amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.BalanceBefore = before
	b.BalanceAfter = p.Balance
	cp := *b
	s.bets = append(s.bets, &cp)
	s.betIdx[key] = &cp
	return p, nil
}

func (s *MemoryStore) GetBet(_ context.Context, participantID, roundID string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.betIdx[betKey{participantID, roundID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBetsByRound(_ context.Context, roundID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.RoundID == roundID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBetsByParticipant(_ context.Context, participantID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.ParticipantID == participantID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) SettleRound(_ context.Context, roundID string, settledAt time.Time, settlements []model.BetSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roundIdx[roundID]
	if !ok {
		return fmt.Errorf("round %s: %w", roundID, ErrRoundNotFound)
	}
	if r.Settled() {
		return fmt.Errorf("round %s: %w", roundID, ErrAlreadySettled)
	}

	for _, st := range settlements {
		b, ok := s.betIdx[betKey{st.ParticipantID, roundID}]
		if !ok || b.ID != st.BetID {
			continue
		}
		p, ok := s.participants[st.ParticipantID]
		if !ok {
			continue
		}
		if st.Payout.IsPositive() {
			p.Balance = p.Balance.Add(st.Payout).Round(model.MoneyScale)
		}
		b.IsCorrect = st.IsCorrect
		b.Settled = true
		b.BalanceAfter = p.Balance
	}

	t := settledAt
	r.SettledAt = &t
	return nil
}

// --- Key/value state ---

func (s *MemoryStore) GetState(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.state[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) SetState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[key] = value
	return nil
}

// --- Marketplace items ---

func (s *MemoryStore) UpsertItem(_ context.Context, item *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[item.ParticipantID]; !ok {
		return fmt.Errorf("participant %s: %w", item.ParticipantID, ErrNotRegistered)
	}
	for _, it := range s.items {
		if it.ID == item.ID {
			*it = *copyItem(item)
			return nil
		}
	}
	s.items = append(s.items, copyItem(item))
	return nil
}

func (s *MemoryStore) ListItemsByParticipant(_ context.Context, participantID string) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Item
	for _, it := range s.items {
		if it.ParticipantID == participantID {
			result = append(result, *copyItem(it))
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateItemPrices(_ context.Context, itemID string, buy, sell *decimal.Decimal, pricedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.ID == itemID {
			it.BuyPrice = copyDecimal(buy)
			it.SellPrice = copyDecimal(sell)
			t := pricedAt
			it.PricedAt = &t
			return nil
		}
	}
	return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
}

func copyItem(it *model.Item) *model.Item {
	cp := *it
	cp.BuyPrice = copyDecimal(it.BuyPrice)
	cp.SellPrice = copyDecimal(it.SellPrice)
	if it.PricedAt != nil {
		t := *it.PricedAt
		cp.PricedAt = &t
	}
	return &cp
}

func copyDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
