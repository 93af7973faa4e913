// Package settlement computes bet outcomes for a resolved round.
//
// Settlement is pure: it reads a bet and the round it was placed on and
// returns what should happen to the bettor's balance. Applying the result
// (exactly once per round) is the store's job.
//
// Balances are debited by the stake when a bet is placed, so the amount
// credited at settlement is the full payout (stake × multiplier). The net
// effect on the balance is Delta = (multiplier - 1) × stake.
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/wheel"
)

var one = decimal.NewFromInt(1)

// Outcome is the computed result of one bet.
type Outcome struct {
	BetID         string          `json:"bet_id"`
	ParticipantID string          `json:"participant_id"`
	Color         model.Color     `json:"color"`
	Amount        decimal.Decimal `json:"amount"`
	IsCorrect     bool            `json:"is_correct"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Delta         decimal.Decimal `json:"delta"`  // net balance change
	Payout        decimal.Decimal `json:"payout"` // credited at settlement
}

// Summary aggregates a round's outcomes from the house's point of view.
type Summary struct {
	RoundID  string          `json:"round_id"`
	Bets     int             `json:"bets"`
	Winners  int             `json:"winners"`
	Intake   decimal.Decimal `json:"intake"`    // total staked
	Payout   decimal.Decimal `json:"payout"`    // total credited back
	NetDelta decimal.Decimal `json:"net_delta"` // Σ participant deltas
	HouseNet decimal.Decimal `json:"house_net"` // intake - payout = -NetDelta
}

// Settle computes the outcome of a single bet against a resolved round.
func Settle(bet model.Bet, round model.Round) Outcome {
	correct := bet.Color == round.ResultColor
	mult := decimal.Zero
	if correct {
		mult = wheel.Multiplier(bet.Color)
	}
	return Outcome{
		BetID:         bet.ID,
		ParticipantID: bet.ParticipantID,
		Color:         bet.Color,
		Amount:        bet.Amount,
		IsCorrect:     correct,
		Multiplier:    mult,
		Delta:         mult.Sub(one).Mul(bet.Amount).Round(model.MoneyScale),
		Payout:        mult.Mul(bet.Amount).Round(model.MoneyScale),
	}
}

// SettleRound settles every bet of a round. Bets from other rounds are
// ignored. Outcomes keep the order of bets.
func SettleRound(round model.Round, bets []model.Bet) ([]Outcome, Summary) {
	sum := Summary{
		RoundID:  round.ID,
		Intake:   decimal.Zero,
		Payout:   decimal.Zero,
		NetDelta: decimal.Zero,
	}
	outcomes := make([]Outcome, 0, len(bets))
	for _, b := range bets {
		if b.RoundID != round.ID {
			continue
		}
		o := Settle(b, round)
		outcomes = append(outcomes, o)

		sum.Bets++
		if o.IsCorrect {
			sum.Winners++
		}
		sum.Intake = sum.Intake.Add(o.Amount)
		sum.Payout = sum.Payout.Add(o.Payout)
		sum.NetDelta = sum.NetDelta.Add(o.Delta)
	}
	sum.HouseNet = sum.Intake.Sub(sum.Payout)
	return outcomes, sum
}

// Settlements converts outcomes into the records the store applies.
func Settlements(outcomes []Outcome) []model.BetSettlement {
	out := make([]model.BetSettlement, len(outcomes))
	for i, o := range outcomes {
		out[i] = model.BetSettlement{
			BetID:         o.BetID,
			ParticipantID: o.ParticipantID,
			IsCorrect:     o.IsCorrect,
			Payout:        o.Payout,
		}
	}
	return out
}
