// Package engine runs the live roulette round loop and serves the
// participant-facing operations against shared round state.
//
// A round moves OPEN → LOCKED → RESOLVING → SETTLING and then a new round
// opens. Bets are accepted only while the round is OPEN; the state flag is
// guarded by an RWMutex that bet placement holds (read side) across its
// whole check-and-commit, and that closing the window takes (write side).
// An in-flight bet therefore either lands before the close or is rejected.
//
// Per-participant work (bets, daily claims, admin balance changes) is
// serialized through a keyed mutex so two requests from the same person
// never interleave.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/metrics"
	"github.com/spinroom/roulette-engine/internal/model"
	"github.com/spinroom/roulette-engine/internal/progression"
	"github.com/spinroom/roulette-engine/internal/settlement"
	"github.com/spinroom/roulette-engine/internal/store"
	"github.com/spinroom/roulette-engine/internal/wheel"
)

// State is the round-engine state.
type State string

const (
	StateIdle      State = "idle"
	StateOpen      State = "open"
	StateLocked    State = "locked"
	StateResolving State = "resolving"
	StateSettling  State = "settling"
	StateHalted    State = "halted"
)

var (
	// ErrBettingClosed is returned for bets outside the OPEN window.
	ErrBettingClosed = errors.New("engine: betting is closed")

	// ErrInvalidColor is returned for bets on an unknown color.
	ErrInvalidColor = errors.New("engine: invalid color")

	// ErrAlreadyRunning is returned by Start while the loop is running.
	ErrAlreadyRunning = errors.New("engine: already running")

	// ErrInvalidWindow is returned for a non-positive betting window.
	ErrInvalidWindow = errors.New("engine: betting window must be positive")
)

// settleTimeout bounds the settlement write, which runs even during shutdown.
const settleTimeout = 15 * time.Second

// Config holds the round timings.
type Config struct {
	BettingWindow   time.Duration
	RevealDuration  time.Duration
	RevealFrameRate int // frames per second
	Intermission    time.Duration
	TickInterval    time.Duration
	RecentResults   int
}

// DefaultConfig returns the production timings: a 10s window, a 10s reveal
// at 5fps and a 5s pause between rounds.
func DefaultConfig() Config {
	return Config{
		BettingWindow:   10 * time.Second,
		RevealDuration:  10 * time.Second,
		RevealFrameRate: 5,
		Intermission:    5 * time.Second,
		TickInterval:    time.Second,
		RecentResults:   8,
	}
}

// Outcomes produces round results. *wheel.Generator implements it.
type Outcomes interface {
	Next(ctx context.Context) int
}

// Engine owns the round loop and all shared round state.
type Engine struct {
	store    store.Store
	outcomes Outcomes
	levels   *progression.Tracker
	log      *slog.Logger
	now      func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	// gate guards the fields below; bet placement holds the read side.
	gate          sync.RWMutex
	state         State
	round         *model.Round
	openedAt      time.Time
	closesAt      time.Time
	lockedRoundID string // round this process closed but has not settled
	lastErr       error

	betsMu sync.Mutex
	bets   []model.Bet

	recentMu sync.RWMutex
	recent   []model.Round

	locks *keyedMutex

	subsMu  sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	runMu   sync.Mutex
	running bool
	startCh chan chan struct{}
	stopCh  chan struct{}
}

// New creates an engine. Call Run to drive rounds and Start to begin.
func New(st store.Store, outcomes Outcomes, levels *progression.Tracker, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BettingWindow <= 0 {
		cfg.BettingWindow = def.BettingWindow
	}
	if cfg.RevealFrameRate <= 0 {
		cfg.RevealFrameRate = def.RevealFrameRate
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.RecentResults <= 0 {
		cfg.RecentResults = def.RecentResults
	}
	return &Engine{
		store:    st,
		outcomes: outcomes,
		levels:   levels,
		log:      log.With(slog.String("component", "engine")),
		now:      time.Now,
		cfg:      cfg,
		state:    StateIdle,
		locks:    newKeyedMutex(),
		subs:     make(map[int]*subscriber),
		startCh:  make(chan chan struct{}, 1),
	}
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetBettingWindow changes the betting window. It applies from the next
// round that opens.
func (e *Engine) SetBettingWindow(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidWindow
	}
	e.cfgMu.Lock()
	e.cfg.BettingWindow = d
	e.cfgMu.Unlock()
	e.log.Info("betting window changed", slog.Duration("window", d))
	return nil
}

// BettingWindow returns the configured betting window.
func (e *Engine) BettingWindow() time.Duration {
	return e.config().BettingWindow
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.state
}

// Running reports whether the round loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// --- Lifecycle ---

// Run drives rounds until ctx is cancelled. Between Start and Stop (or a
// halt) it plays rounds back to back; otherwise it waits for Start.
// Cancelling ctx shortens any wait in progress, but a round that has been
// drawn is still carried through settlement before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	const op = "engine.Run"
	log := e.log.With(sl.Op(op))

	if err := e.loadRecent(ctx); err != nil {
		log.Warn("could not load recent results", sl.Err(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case stop := <-e.startCh:
			e.loop(ctx, stop)
		}
	}
}

// Start begins (or resumes) the round loop. It returns ErrAlreadyRunning
// until a requested Stop has finished settling the current round.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.startCh <- e.stopCh
	return nil
}

// Stop asks the loop to halt after the current round has settled. It does
// not wait; an engine_stopped event follows once the loop is idle.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running || e.stopCh == nil {
		return
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}) {
	e.log.Info("round loop started")
	e.emit(EventEngineStarted, "", nil)

	err := e.rounds(ctx, stop)

	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()

	if err != nil {
		e.halt(err)
		return
	}
	e.idle()
}

// rounds plays rounds back to back until stopped. A non-nil error means
// progression must halt.
func (e *Engine) rounds(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round loop panic: %v", r)
		}
	}()

	for {
		if err := e.playRound(ctx); err != nil {
			return err
		}
		if stopped(ctx, stop) {
			return nil
		}
		if !e.wait(ctx, stop, e.config().Intermission) {
			return nil
		}
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports whether it ran to completion.
func (e *Engine) wait(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(ctx, stop)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) idle() {
	e.gate.Lock()
	e.state = StateIdle
	roundID := ""
	if e.round != nil {
		roundID = e.round.ID
	}
	e.gate.Unlock()

	e.log.Info("round loop stopped")
	e.emit(EventEngineStopped, roundID, nil)
}

func (e *Engine) halt(err error) {
	e.gate.Lock()
	e.state = StateHalted
	e.lastErr = err
	roundID := ""
	if e.round != nil {
		roundID = e.round.ID
	}
	e.gate.Unlock()

	metrics.EngineHalted.Set(1)
	e.log.Error("round loop halted", sl.Err(err), slog.String("round_id", roundID))
	e.emit(EventEngineHalted, roundID, HaltData{Error: err.Error()})
}

// --- Round phases ---

func (e *Engine) playRound(ctx context.Context) error {
	r, resume, err := e.prepareRound(ctx)
	if err != nil {
		return err
	}
	if !resume {
		if err := e.open(ctx, r); err != nil {
			return err
		}
		e.waitWindow(ctx)
		e.lock(r)
		e.reveal(ctx, r)
	}
	return e.settle(ctx, r)
}

// prepareRound returns the round to play. An unsettled current round is
// resumed; a round this process already closed skips straight to
// settlement (resume=true). Otherwise a new round is drawn.
func (e *Engine) prepareRound(ctx context.Context) (*model.Round, bool, error) {
	cur, err := e.store.GetCurrentRound(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load current round: %w", err)
	}

	if cur != nil && !cur.Settled() {
		e.gate.RLock()
		locked := e.lockedRoundID
		e.gate.RUnlock()
		if cur.ID == locked {
			e.log.Info("settling round closed before halt", slog.String("round_id", cur.ID))
			return cur, true, nil
		}
		e.log.Info("resuming unsettled round", slog.String("round_id", cur.ID))
		return cur, false, nil
	}

	n := e.outcomes.Next(ctx)
	r := &model.Round{
		ID:           uuid.New().String(),
		ResultNumber: n,
		ResultColor:  wheel.MustColorOf(n),
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.CreateRound(ctx, r); err != nil {
		return nil, false, fmt.Errorf("create round: %w", err)
	}
	return r, false, nil
}

func (e *Engine) open(ctx context.Context, r *model.Round) error {
	existing, err := e.store.ListBetsByRound(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load bets for round %s: %w", r.ID, err)
	}

	window := e.config().BettingWindow
	now := e.now()

	e.gate.Lock()
	e.state = StateOpen
	e.round = r
	e.openedAt = now
	e.closesAt = now.Add(window)
	e.betsMu.Lock()
	e.bets = existing
	e.betsMu.Unlock()
	e.gate.Unlock()

	e.log.Info("round opened",
		slog.String("round_id", r.ID),
		slog.Duration("window", window),
		slog.Int("existing_bets", len(existing)),
	)
	e.emit(EventRoundOpened, r.ID, TickData{RemainingSeconds: window.Seconds()})
	return nil
}

// waitWindow blocks until the betting window ends, emitting timer ticks.
// Cancelling ctx closes the window early.
func (e *Engine) waitWindow(ctx context.Context) {
	e.gate.RLock()
	closesAt := e.closesAt
	roundID := e.round.ID
	e.gate.RUnlock()

	ticker := time.NewTicker(e.config().TickInterval)
	defer ticker.Stop()
	timer := time.NewTimer(closesAt.Sub(e.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
			remaining := closesAt.Sub(e.now())
			if remaining < 0 {
				remaining = 0
			}
			e.emit(EventTimerTick, roundID, TickData{RemainingSeconds: remaining.Seconds()})
		}
	}
}

func (e *Engine) lock(r *model.Round) {
	e.gate.Lock()
	e.state = StateLocked
	e.lockedRoundID = r.ID
	e.gate.Unlock()

	e.betsMu.Lock()
	n := len(e.bets)
	e.betsMu.Unlock()

	e.log.Info("betting closed", slog.String("round_id", r.ID), slog.Int("bets", n))
	e.emit(EventBettingClosed, r.ID, ClosedData{Bets: n})
}

// reveal publishes the spin animation frames. Display only; it never
// touches stored state and is cut short when ctx ends.
func (e *Engine) reveal(ctx context.Context, r *model.Round) {
	e.gate.Lock()
	e.state = StateResolving
	e.gate.Unlock()

	cfg := e.config()
	frames := int(cfg.RevealDuration.Seconds() * float64(cfg.RevealFrameRate))
	if frames <= 0 {
		return
	}

	from := wheel.Sequence[0]
	if last, ok := e.lastResult(); ok {
		from = last
	}
	path := wheel.RevealPath(from, r.ResultNumber, frames, 1+rand.Intn(2))
	interval := cfg.RevealDuration / time.Duration(frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i, n := range path {
		e.emit(EventRevealFrame, r.ID, FrameData{Frame: i + 1, Frames: frames, Number: n, Window: wheel.Window(n)})
		if i == len(path)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RoundResult is the payload of round_settled.
type RoundResult struct {
	Round    model.Round          `json:"round"`
	Summary  settlement.Summary   `json:"summary"`
	Outcomes []settlement.Outcome `json:"outcomes"`
}

func (e *Engine) settle(ctx context.Context, r *model.Round) error {
	const op = "engine.settle"
	log := e.log.With(sl.Op(op), slog.String("round_id", r.ID))

	e.gate.Lock()
	e.state = StateSettling
	e.round = r
	e.gate.Unlock()

	// Settlement completes even when shutdown has begun.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	start := time.Now()
	bets, err := e.store.ListBetsByRound(sctx, r.ID)
	if err != nil {
		return fmt.Errorf("load bets for round %s: %w", r.ID, err)
	}

	outcomes, summary := settlement.SettleRound(*r, bets)
	settledAt := e.now().UTC()
	err = e.store.SettleRound(sctx, r.ID, settledAt, settlement.Settlements(outcomes))
	switch {
	case errors.Is(err, store.ErrAlreadySettled):
		log.Warn("round was already settled, skipping payouts")
	case err != nil:
		return fmt.Errorf("settle round %s: %w", r.ID, err)
	default:
		metrics.SettlementLatency.Observe(time.Since(start).Seconds())
		metrics.RoundsTotal.Inc()
		metrics.RoundResults.WithLabelValues(string(r.ResultColor)).Inc()
		houseNet, _ := summary.HouseNet.Float64()
		metrics.HouseNet.Add(houseNet)
	}

	settled := *r
	settled.SettledAt = &settledAt

	e.gate.Lock()
	e.round = &settled
	e.lockedRoundID = ""
	e.lastErr = nil
	e.gate.Unlock()
	metrics.EngineHalted.Set(0)

	e.betsMu.Lock()
	byID := make(map[string]settlement.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.BetID] = o
	}
	for i := range e.bets {
		if o, ok := byID[e.bets[i].ID]; ok {
			e.bets[i].IsCorrect = o.IsCorrect
			e.bets[i].Settled = true
		}
	}
	e.betsMu.Unlock()

	e.pushRecent(settled)

	log.Info("round settled",
		slog.Int("result", r.ResultNumber),
		slog.String("color", string(r.ResultColor)),
		slog.Int("bets", summary.Bets),
		slog.Int("winners", summary.Winners),
		slog.String("house_net", summary.HouseNet.String()),
	)
	e.emit(EventRoundSettled, r.ID, RoundResult{Round: settled, Summary: summary, Outcomes: outcomes})
	return nil
}

// --- Recent results ---

func (e *Engine) loadRecent(ctx context.Context) error {
	n := e.config().RecentResults
	rounds, err := e.store.ListRecentRounds(ctx, n+1)
	if err != nil {
		return err
	}
	settled := make([]model.Round, 0, len(rounds))
	for _, r := range rounds {
		if r.Settled() {
			settled = append(settled, r)
		}
	}
	if len(settled) > n {
		settled = settled[len(settled)-n:]
	}

	e.recentMu.Lock()
	e.recent = settled
	e.recentMu.Unlock()
	return nil
}

func (e *Engine) pushRecent(r model.Round) {
	n := e.config().RecentResults

	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recent = append(e.recent, r)
	if len(e.recent) > n {
		e.recent = e.recent[len(e.recent)-n:]
	}
}

func (e *Engine) lastResult() (int, bool) {
	e.recentMu.RLock()
	defer e.recentMu.RUnlock()
	if len(e.recent) == 0 {
		return 0, false
	}
	return e.recent[len(e.recent)-1].ResultNumber, true
}

// --- Snapshot ---

// RecentResult is one entry of the previous-rolls strip.
type RecentResult struct {
	RoundID string      `json:"round_id"`
	Number  int         `json:"number"`
	Color   model.Color `json:"color"`
}

// Snapshot is the queryable round state. The result is only present once
// the round has been revealed.
type Snapshot struct {
	State            State                           `json:"state"`
	Running          bool                            `json:"running"`
	RoundID          string                          `json:"round_id,omitempty"`
	OpenedAt         *time.Time                      `json:"opened_at,omitempty"`
	ClosesAt         *time.Time                      `json:"closes_at,omitempty"`
	RemainingSeconds float64                         `json:"remaining_seconds"`
	BettingWindow    float64                         `json:"betting_window_seconds"`
	ResultNumber     *int                            `json:"result_number,omitempty"`
	ResultColor      *model.Color                    `json:"result_color,omitempty"`
	Bets             []model.Bet                     `json:"bets"`
	Totals           map[model.Color]decimal.Decimal `json:"totals"`
	Recent           []RecentResult                  `json:"recent"`
	LastError        string                          `json:"last_error,omitempty"`
}

// Snapshot returns a consistent copy of the current round state.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Running:       e.Running(),
		BettingWindow: e.config().BettingWindow.Seconds(),
		Totals: map[model.Color]decimal.Decimal{
			model.Red:   decimal.Zero,
			model.Black: decimal.Zero,
			model.Green: decimal.Zero,
		},
	}

	e.gate.RLock()
	snap.State = e.state
	if e.lastErr != nil {
		snap.LastError = e.lastErr.Error()
	}
	if r := e.round; r != nil {
		snap.RoundID = r.ID
		opened, closes := e.openedAt, e.closesAt
		snap.OpenedAt, snap.ClosesAt = &opened, &closes
		if e.state == StateOpen {
			if rem := closes.Sub(e.now()); rem > 0 {
				snap.RemainingSeconds = rem.Seconds()
			}
		}
		if e.state == StateResolving || e.state == StateSettling || r.Settled() {
			n, c := r.ResultNumber, r.ResultColor
			snap.ResultNumber, snap.ResultColor = &n, &c
		}
	}
	e.gate.RUnlock()

	e.betsMu.Lock()
	snap.Bets = make([]model.Bet, len(e.bets))
	copy(snap.Bets, e.bets)
	e.betsMu.Unlock()
	for _, b := range snap.Bets {
		snap.Totals[b.Color] = snap.Totals[b.Color].Add(b.Amount)
	}

	e.recentMu.RLock()
	snap.Recent = make([]RecentResult, 0, len(e.recent))
	for _, r := range e.recent {
		snap.Recent = append(snap.Recent, RecentResult{RoundID: r.ID, Number: r.ResultNumber, Color: r.ResultColor})
	}
	e.recentMu.RUnlock()

	return snap
}
