package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/metrics"
	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/progression"
	"github.com/spinroom/roulette-engine/internal/store"
)

// BetRequest is a bet placement. A nil Amount uses the participant's
// default bet.
type BetRequest struct {
	ParticipantID string
	Color         model.Color
	Amount        *decimal.Decimal
}

// BetReceipt describes an accepted bet.
type BetReceipt struct {
	Bet          model.Bet       `json:"bet"`
	Balance      decimal.Decimal `json:"balance"`
	XP           int64           `json:"xp"`
	Level        int             `json:"level"`
	LevelsGained int             `json:"levels_gained"`
}

// PlaceBet accepts a bet on the current round. It fails with
// ErrBettingClosed outside the OPEN window, store.ErrNotRegistered,
// store.ErrDuplicateBet or store.ErrInsufficientBalance; a rejected bet
// changes nothing.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (*BetReceipt, error) {
	const op = "engine.PlaceBet"
	log := e.log.With(sl.Op(op), slog.String("participant_id", req.ParticipantID))

	receipt, err := e.placeBet(ctx, req)
	if err != nil {
		metrics.BetRejections.WithLabelValues(rejectReason(err)).Inc()
		log.Debug("bet rejected", sl.Err(err))
		return nil, err
	}

	metrics.BetsTotal.WithLabelValues(string(receipt.Bet.Color)).Inc()
	amount, _ := receipt.Bet.Amount.Float64()
	metrics.BetVolume.WithLabelValues(string(receipt.Bet.Color)).Add(amount)

	log.Info("bet placed",
		slog.String("round_id", receipt.Bet.RoundID),
		slog.String("color", string(receipt.Bet.Color)),
		slog.String("amount", receipt.Bet.Amount.String()),
	)
	e.emit(EventBetPlaced, receipt.Bet.RoundID, receipt.Bet)
	return receipt, nil
}

func (e *Engine) placeBet(ctx context.Context, req BetRequest) (*BetReceipt, error) {
	if !req.Color.Valid() {
		return nil, fmt.Errorf("%q: %w", req.Color, ErrInvalidColor)
	}

	unlock := e.locks.Lock(req.ParticipantID)
	defer unlock()

	p, err := e.store.GetParticipant(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	amount := p.DefaultBet
	if req.Amount != nil {
		amount = *req.Amount
	}
	amount = amount.Round(model.MoneyScale)
	if !amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}

	// The read side is held until the bet is committed, so closing the
	// window waits for it.
	e.gate.RLock()
	defer e.gate.RUnlock()

	if e.state != StateOpen || e.round == nil || !e.now().Before(e.closesAt) {
		return nil, ErrBettingClosed
	}
	roundID := e.round.ID

	if _, err := e.store.GetBet(ctx, req.ParticipantID, roundID); err == nil {
		return nil, store.ErrDuplicateBet
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing bet: %w", err)
	}

	bet := &model.Bet{
		ID:            "bet-" + uuid.New().String(),
		ParticipantID: req.ParticipantID,
		RoundID:       roundID,
		Amount:        amount,
		Color:         req.Color,
		CreatedAt:     e.now().UTC(),
	}
	p, err = e.store.PlaceBet(ctx, bet)
	if err != nil {
		return nil, err
	}

	var gained int
	updated, err := e.store.UpdateParticipant(ctx, req.ParticipantID, func(p *model.Participant) error {
		gained = e.levels.AwardXP(p, progression.XPForBet(amount))
		return nil
	})
	if err != nil {
		// The bet stands; xp is best-effort.
		e.log.Warn("award xp failed", sl.Err(err), slog.String("participant_id", req.ParticipantID))
	} else {
		p = updated
	}

	e.betsMu.Lock()
	e.bets = append(e.bets, *bet)
	e.betsMu.Unlock()

	return &BetReceipt{
		Bet:          *bet,
		Balance:      p.Balance,
		XP:           p.XP,
		Level:        p.Level,
		LevelsGained: gained,
	}, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrBettingClosed):
		return "closed"
	case errors.Is(err, store.ErrDuplicateBet):
		return "duplicate"
	case errors.Is(err, store.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, store.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrInvalidColor), errors.Is(err, store.ErrInvalidAmount):
		return "invalid"
	default:
		return "error"
	}
}

// --- Participants ---

// Register creates a participant, or returns the existing one unchanged.
func (e *Engine) Register(ctx context.Context, id, name string) (*model.Participant, bool, error) {
	p, created, err := e.store.CreateParticipant(ctx, e.levels.NewParticipant(id, name, e.now().UTC()))
	if err != nil {
		return nil, false, fmt.Errorf("register %s: %w", id, err)
	}
	if created {
		e.log.Info("participant registered", slog.String("participant_id", id))
	}
	return p, created, nil
}

// Stats is a participant's profile with betting aggregates and level progress.
type Stats struct {
	model.ParticipantStats
	NextLevelXP int64 `json:"next_level_xp"` // xp still needed; 0 at max level
	MaxLevel    bool  `json:"max_level"`
}

// GetStats returns the participant's profile or store.ErrNotRegistered.
func (e *Engine) GetStats(ctx context.Context, id string) (*Stats, error) {
	st, err := e.store.GetParticipantStats(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Stats{ParticipantStats: *st}
	if st.Level >= e.levels.MaxLevel() {
		out.MaxLevel = true
		return out, nil
	}
	out.NextLevelXP = e.levels.Entry(st.Level+1).TotalXP - st.XP
	if out.NextLevelXP < 0 {
		out.NextLevelXP = 0
	}
	return out, nil
}

// DailyReceipt describes a successful daily claim.
type DailyReceipt struct {
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	NextClaim time.Time       `json:"next_claim"`
}

// ClaimDaily credits the daily reward. Too early a claim fails with a
// *progression.CooldownError wrapping progression.ErrCooldownActive.
func (e *Engine) ClaimDaily(ctx context.Context, id string) (*DailyReceipt, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	var reward decimal.Decimal
	now := e.now().UTC()
	p, err := e.store.UpdateParticipant(ctx, id, func(p *model.Participant) error {
		var err error
		reward, err = e.levels.ClaimDaily(p, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("daily claimed", slog.String("participant_id", id), slog.String("amount", reward.String()))
	return &DailyReceipt{Amount: reward, Balance: p.Balance, NextClaim: p.DailyCooldown}, nil
}

// SetDefaultBet stores the stake used when a bet names no amount.
func (e *Engine) SetDefaultBet(ctx context.Context, id string, amount decimal.Decimal) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.store.SetDefaultBet(ctx, id, amount)
}

// SetTradeURL stores the participant's marketplace trade link.
func (e *Engine) SetTradeURL(ctx context.Context, id, url string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.store.SetTradeURL(ctx, id, url)
}

// AdjustBalance applies an admin balance change. It never takes the
// balance below zero.
func (e *Engine) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Participant, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.store.AdjustBalance(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	e.log.Info("balance adjusted",
		slog.String("participant_id", id),
		slog.String("delta", delta.String()),
		slog.String("balance", p.Balance.String()),
	)
	return p, nil
}

// DeleteParticipant removes a participant with their history, including
// any bet on the round in progress.
func (e *Engine) DeleteParticipant(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	if err := e.store.DeleteParticipant(ctx, id); err != nil {
		return err
	}

	// The ledger dropped the participant's bets; the live round must too.
	e.betsMu.Lock()
	kept := e.bets[:0]
	for _, b := range e.bets {
		if b.ParticipantID != id {
			kept = append(kept, b)
		}
	}
	e.bets = kept
	e.betsMu.Unlock()

	e.log.Info("participant deleted", slog.String("participant_id", id))
	return nil
}

// ParticipantBets returns a participant's bet history, oldest first.
func (e *Engine) ParticipantBets(ctx context.Context, id string) ([]model.Bet, error) {
	if _, err := e.store.GetParticipant(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListBetsByParticipant(ctx, id)
}

// BetsForRound returns a round's bets in placement order.
func (e *Engine) BetsForRound(ctx context.Context, roundID string) ([]model.Bet, error) {
	if _, err := e.store.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	return e.store.ListBetsByRound(ctx, roundID)
}

// RecentRounds returns up to n most recent settled rounds, oldest first.
// The current round is left out until its result is settled.
func (e *Engine) RecentRounds(ctx context.Context, n int) ([]model.Round, error) {
	if n <= 0 {
		return []model.Round{}, nil
	}
	rounds, err := e.store.ListRecentRounds(ctx, n+1)
	if err != nil {
		return nil, err
	}
	out := make([]model.Round, 0, len(rounds))
	for _, r := range rounds {
		if r.Settled() {
			out = append(out, r)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// --- Leaderboard ---

// ByBalanceThenWagered orders participants by balance, then total wagered,
// both descending, with the id as a stable tiebreak.
func ByBalanceThenWagered(a, b model.ParticipantStats) bool {
	if c := a.Balance.Cmp(b.Balance); c != 0 {
		return c > 0
	}
	if c := a.TotalWagered.Cmp(b.TotalWagered); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

// Leaderboard returns the top n participants.
func (e *Engine) Leaderboard(ctx context.Context, n int) ([]model.ParticipantStats, error) {
	all, err := e.store.ListParticipantStats(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return ByBalanceThenWagered(all[i], all[j]) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}
