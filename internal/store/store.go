// Package store defines the persistence interface for the roulette engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-process runs).
//
// Every method is atomic with respect to the participant it touches: a bet
// placement checks the balance, debits the stake and inserts the bet as one
// step, and settling a round applies all credits and marks the round settled
// as one step.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
)

var (
	// ErrNotRegistered is returned for an unknown participant id.
	ErrNotRegistered = errors.New("store: participant not registered")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("store: insufficient balance")

	// ErrDuplicateBet is returned when a participant already has a bet on the round.
	ErrDuplicateBet = errors.New("store: participant already bet on this round")

	// ErrRoundNotFound is returned for an unknown round id.
	ErrRoundNotFound = errors.New("store: round not found")

	// ErrAlreadySettled is returned when settling or betting on a settled round.
	ErrAlreadySettled = errors.New("store: round already settled")

	// ErrNotFound is returned by keyed lookups (bets, items, state) that miss.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidAmount is returned for non-positive stakes or bet amounts.
	ErrInvalidAmount = errors.New("store: amount must be positive")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Participants ---

	// CreateParticipant inserts p unless the id is taken, in which case the
	// existing participant is returned with created=false.
	CreateParticipant(ctx context.Context, p *model.Participant) (existing *model.Participant, created bool, err error)

	// GetParticipant retrieves a participant or ErrNotRegistered.
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	// UpdateParticipant runs fn on the current participant and persists the
	// result atomically. If fn returns an error nothing is written.
	UpdateParticipant(ctx context.Context, id string, fn func(p *model.Participant) error) (*model.Participant, error)

	// AdjustBalance adds delta (may be negative) to the balance, rounded to
	// two places. A result below zero fails with ErrInsufficientBalance.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Participant, error)

	// SetDefaultBet stores the participant's preferred stake.
	SetDefaultBet(ctx context.Context, id string, amount decimal.Decimal) error

	// SetDailyCooldown stores the next instant a daily claim is allowed.
	SetDailyCooldown(ctx context.Context, id string, at time.Time) error

	// SetTradeURL stores the participant's marketplace trade link.
	SetTradeURL(ctx context.Context, id string, url string) error

	// DeleteParticipant removes a participant with their bets and items.
	DeleteParticipant(ctx context.Context, id string) error

	// GetParticipantStats returns one participant with betting aggregates.
	GetParticipantStats(ctx context.Context, id string) (*model.ParticipantStats, error)

	// ListParticipantStats returns every participant with betting aggregates.
	ListParticipantStats(ctx context.Context) ([]model.ParticipantStats, error)

	// --- Rounds ---

	// CreateRound persists a new round.
	CreateRound(ctx context.Context, r *model.Round) error

	// GetRound retrieves a round or ErrRoundNotFound.
	GetRound(ctx context.Context, id string) (*model.Round, error)

	// GetCurrentRound returns the most recently created round, or nil if
	// there are none.
	GetCurrentRound(ctx context.Context) (*model.Round, error)

	// ListRecentRounds returns up to n most recent rounds, oldest first.
	ListRecentRounds(ctx context.Context, n int) ([]model.Round, error)

	// CountRounds returns the number of rounds ever created.
	CountRounds(ctx context.Context) (int64, error)

	// --- Bets ---

	// PlaceBet debits the stake and inserts the bet in one step, filling in
	// the balance snapshots. It returns the participant after the debit.
	PlaceBet(ctx context.Context, b *model.Bet) (*model.Participant, error)

	// GetBet returns the participant's bet on a round, or ErrNotFound.
	GetBet(ctx context.Context, participantID, roundID string) (*model.Bet, error)

	// ListBetsByRound returns a round's bets in placement order.
	ListBetsByRound(ctx context.Context, roundID string) ([]model.Bet, error)

	// ListBetsByParticipant returns a participant's bets, oldest first.
	ListBetsByParticipant(ctx context.Context, participantID string) ([]model.Bet, error)

	// SettleRound applies settlements and marks the round settled in one
	// step. A second call fails with ErrAlreadySettled and changes nothing.
	// Settlements for participants that no longer exist are skipped.
	SettleRound(ctx context.Context, roundID string, settledAt time.Time, settlements []model.BetSettlement) error

	// --- Key/value state ---

	// GetState returns a stored value or ErrNotFound.
	GetState(ctx context.Context, key string) (string, error)

	// SetState stores a value, replacing any previous one.
	SetState(ctx context.Context, key, value string) error

	// --- Marketplace items ---

	// UpsertItem inserts an item or updates its name and prices.
	UpsertItem(ctx context.Context, item *model.Item) error

	// ListItemsByParticipant returns a participant's items, oldest first.
	ListItemsByParticipant(ctx context.Context, participantID string) ([]model.Item, error)

	// UpdateItemPrices stores fresh prices; nil prices mark the item unpriced.
	UpdateItemPrices(ctx context.Context, itemID string, buy, sell *decimal.Decimal, pricedAt time.Time) error
}
