// Package model defines the core domain types shared across the roulette engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money is rounded to.
const MoneyScale int32 = 2

// Color is a wheel pocket color and the thing a bet is placed on.
type Color string

const (
	Red   Color = "RED"
	Black Color = "BLACK"
	Green Color = "GREEN"
)

// Valid reports whether c is one of the three bettable colors.
func (c Color) Valid() bool {
	return c == Red || c == Black || c == Green
}

// Participant is a registered player. Balance never goes negative after
// a successful bet placement; XP never decreases.
type Participant struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	XP            int64           `json:"xp" db:"xp"`
	Level         int             `json:"level" db:"level"`
	Daily         decimal.Decimal `json:"daily" db:"daily"`                   // reward per claim at current level
	DailyCooldown time.Time       `json:"daily_cooldown" db:"daily_cooldown"` // next eligible claim
	DefaultBet    decimal.Decimal `json:"default_bet" db:"default_bet"`
	TradeURL      string          `json:"trade_url,omitempty" db:"trade_url"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Round is one spin of the wheel. The outcome is fixed at creation;
// SettledAt is set exactly once when payouts are applied.
type Round struct {
	ID           string     `json:"id" db:"id"`
	ResultNumber int        `json:"result_number" db:"result_number"`
	ResultColor  Color      `json:"result_color" db:"result_color"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// Settled reports whether payouts for the round have been applied.
func (r *Round) Settled() bool {
	return r.SettledAt != nil
}

// Bet is a single wager by one participant on one round.
// BalanceBefore is the balance before the stake was debited. BalanceAfter is
// the projected balance at placement, rewritten with the real post-settlement
// balance when the round settles.
type Bet struct {
	ID            string          `json:"id" db:"id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	RoundID       string          `json:"round_id" db:"round_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Color         Color           `json:"color" db:"color"`
	IsCorrect     bool            `json:"is_correct" db:"is_correct"`
	Settled       bool            `json:"settled" db:"settled"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// BetSettlement is the authoritative result for one bet, applied by the
// store as part of settling a round.
type BetSettlement struct {
	BetID         string          `json:"bet_id"`
	ParticipantID string          `json:"participant_id"`
	IsCorrect     bool            `json:"is_correct"`
	Payout        decimal.Decimal `json:"payout"` // credited to balance; zero for losers
}

// ParticipantStats is a participant plus aggregate betting activity.
type ParticipantStats struct {
	Participant
	TotalBets    int64           `json:"total_bets"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
}

// LevelEntry is one row of the progression table.
type LevelEntry struct {
	Level   int             `json:"level" yaml:"level"`
	Daily   decimal.Decimal `json:"daily" yaml:"daily"`
	NextXP  int64           `json:"next_xp" yaml:"next_xp"`   // xp from this level to the next
	TotalXP int64           `json:"total_xp" yaml:"total_xp"` // cumulative xp needed to reach this level
}

// Item is a marketplace inventory entry owned by a participant.
// Nil prices mean the item could not be priced.
type Item struct {
	ID            string           `json:"id" db:"id"`
	ParticipantID string           `json:"participant_id" db:"participant_id"`
	Name          string           `json:"name" db:"name"`
	BuyPrice      *decimal.Decimal `json:"buy_price" db:"buy_price"`
	SellPrice     *decimal.Decimal `json:"sell_price" db:"sell_price"`
	PricedAt      *time.Time       `json:"priced_at,omitempty" db:"priced_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}
