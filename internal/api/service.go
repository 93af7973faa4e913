// Package api provides the HTTP handlers for the roulette engine: player
// operations, round state queries, the marketplace inventory and the
// operator endpoints.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/engine"
	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/market"
	"github.com/spinroom/roulette-engine/internal/model"
)

const (
	defaultLeaderboardSize = 10
	maxListSize            = 100
)

// Service handles the HTTP surface over the round engine.
type Service struct {
	engine   *engine.Engine
	market   *market.Service // nil when no pricing oracle is configured
	validate *validator.Validate
	log      *slog.Logger
}

// NewService creates a new API service. Pass nil for mkt if the
// marketplace is not configured.
func NewService(eng *engine.Engine, mkt *market.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		engine:   eng,
		market:   mkt,
		validate: v,
		log:      log.With(slog.String("component", "api")),
	}
}

// Mount registers every route on r. adminAuth guards the /admin group.
func (s *Service) Mount(r chi.Router, hub *WSHub, adminAuth func(http.Handler) http.Handler) {
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Post("/participants", s.Register)
	r.Route("/participants/{userID}", func(r chi.Router) {
		r.Get("/", s.GetStats)
		r.Put("/default-bet", s.SetDefaultBet)
		r.Put("/trade-url", s.SetTradeURL)
		r.Post("/daily", s.ClaimDaily)
		r.Get("/bets", s.ParticipantBets)
		r.Get("/items", s.ListItems)
		r.Post("/items", s.AddItem)
		r.Post("/items/refresh", s.RefreshItems)
	})

	r.Post("/bets", s.PlaceBet)
	r.Get("/leaderboard", s.Leaderboard)
	r.Get("/rounds/current", s.CurrentRound)
	r.Get("/rounds/recent", s.RecentRounds)
	r.Get("/rounds/{roundID}/bets", s.RoundBets)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth)
		r.Post("/engine/start", s.StartEngine)
		r.Post("/engine/stop", s.StopEngine)
		r.Put("/engine/window", s.SetWindow)
		r.Post("/participants/{userID}/adjust", s.AdjustBalance)
		r.Delete("/participants/{userID}", s.DeleteParticipant)
	})
}

// --- Request types ---

// RegisterRequest is the JSON body for POST /participants.
type RegisterRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Name   string `json:"name" validate:"required,max=64"`
}

// BetRequest is the JSON body for POST /bets. Amount falls back to the
// participant's default bet.
type BetRequest struct {
	UserID string           `json:"user_id" validate:"required"`
	Color  string           `json:"color" validate:"required,oneof=RED BLACK GREEN"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// AmountRequest is the JSON body for default-bet and admin adjustments.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TradeURLRequest is the JSON body for PUT /participants/{id}/trade-url.
type TradeURLRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// ItemRequest is the JSON body for POST /participants/{id}/items.
type ItemRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

// WindowRequest is the JSON body for PUT /admin/engine/window.
type WindowRequest struct {
	Seconds int `json:"seconds" validate:"required,min=1,max=600"`
}

// decode reads a JSON body into v and validates it, writing a 400 on
// failure.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, validationMessage(verrs), http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListSize {
		return maxListSize
	}
	return n
}

func (s *Service) internal(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", sl.Op(op), sl.Err(err))
	writeEngineError(w, err)
}

// respond writes v or maps err.
func (s *Service) respond(w http.ResponseWriter, op string, status int, v interface{}, err error) {
	if err != nil {
		if isDomainError(err) {
			writeEngineError(w, err)
			return
		}
		s.internal(w, op, err)
		return
	}
	writeJSON(w, status, v)
}

// --- Participants ---

// Register handles POST /api/v1/participants
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, created, err := s.engine.Register(r.Context(), req.UserID, req.Name)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respond(w, "api.Register", status, p, err)
}

// GetStats handles GET /api/v1/participants/{userID}
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetStats(r.Context(), chi.URLParam(r, "userID"))
	s.respond(w, "api.GetStats", http.StatusOK, st, err)
}

// SetDefaultBet handles PUT /api/v1/participants/{userID}/default-bet
func (s *Service) SetDefaultBet(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	err := s.engine.SetDefaultBet(r.Context(), userID, req.Amount)
	s.respond(w, "api.SetDefaultBet", http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"default_bet": req.Amount.Round(model.MoneyScale),
	}, err)
}

// SetTradeURL handles PUT /api/v1/participants/{userID}/trade-url
func (s *Service) SetTradeURL(w http.ResponseWriter, r *http.Request) {
	var req TradeURLRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	err := s.engine.SetTradeURL(r.Context(), userID, req.URL)
	s.respond(w, "api.SetTradeURL", http.StatusOK, map[string]string{
		"user_id":   userID,
		"trade_url": req.URL,
	}, err)
}

// ClaimDaily handles POST /api/v1/participants/{userID}/daily
func (s *Service) ClaimDaily(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.engine.ClaimDaily(r.Context(), chi.URLParam(r, "userID"))
	s.respond(w, "api.ClaimDaily", http.StatusOK, receipt, err)
}

// ParticipantBets handles GET /api/v1/participants/{userID}/bets
func (s *Service) ParticipantBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.engine.ParticipantBets(r.Context(), chi.URLParam(r, "userID"))
	if bets == nil {
		bets = []model.Bet{}
	}
	s.respond(w, "api.ParticipantBets", http.StatusOK, bets, err)
}

// --- Bets and rounds ---

// PlaceBet handles POST /api/v1/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Color = strings.ToUpper(strings.TrimSpace(req.Color))
	if err := s.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, validationMessage(verrs), http.StatusBadRequest)
			return
		}
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}

	receipt, err := s.engine.PlaceBet(r.Context(), engine.BetRequest{
		ParticipantID: req.UserID,
		Color:         model.Color(req.Color),
		Amount:        req.Amount,
	})
	s.respond(w, "api.PlaceBet", http.StatusCreated, receipt, err)
}

// Leaderboard handles GET /api/v1/leaderboard?n=
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	top, err := s.engine.Leaderboard(r.Context(), queryInt(r, "n", defaultLeaderboardSize))
	if top == nil {
		top = []model.ParticipantStats{}
	}
	s.respond(w, "api.Leaderboard", http.StatusOK, top, err)
}

// CurrentRound handles GET /api/v1/rounds/current
func (s *Service) CurrentRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// RecentRounds handles GET /api/v1/rounds/recent?n=
func (s *Service) RecentRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.engine.RecentRounds(r.Context(), queryInt(r, "n", 8))
	s.respond(w, "api.RecentRounds", http.StatusOK, rounds, err)
}

// RoundBets handles GET /api/v1/rounds/{roundID}/bets
func (s *Service) RoundBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.engine.BetsForRound(r.Context(), chi.URLParam(r, "roundID"))
	if bets == nil {
		bets = []model.Bet{}
	}
	s.respond(w, "api.RoundBets", http.StatusOK, bets, err)
}

// --- Marketplace ---

func (s *Service) marketOr503(w http.ResponseWriter) bool {
	if s.market == nil {
		writeError(w, "marketplace not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// AddItem handles POST /api/v1/participants/{userID}/items
func (s *Service) AddItem(w http.ResponseWriter, r *http.Request) {
	if !s.marketOr503(w) {
		return
	}
	var req ItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.market.AddItem(r.Context(), chi.URLParam(r, "userID"), req.Name)
	s.respond(w, "api.AddItem", http.StatusCreated, item, err)
}

// ListItems handles GET /api/v1/participants/{userID}/items
func (s *Service) ListItems(w http.ResponseWriter, r *http.Request) {
	if !s.marketOr503(w) {
		return
	}
	items, err := s.market.Items(r.Context(), chi.URLParam(r, "userID"))
	if items == nil {
		items = []model.Item{}
	}
	s.respond(w, "api.ListItems", http.StatusOK, items, err)
}

// RefreshItems handles POST /api/v1/participants/{userID}/items/refresh
func (s *Service) RefreshItems(w http.ResponseWriter, r *http.Request) {
	if !s.marketOr503(w) {
		return
	}
	items, err := s.market.RefreshInventory(r.Context(), chi.URLParam(r, "userID"))
	if items == nil {
		items = []model.Item{}
	}
	s.respond(w, "api.RefreshItems", http.StatusOK, items, err)
}

// --- Admin ---

// StartEngine handles POST /api/v1/admin/engine/start. While a stop is
// still draining the current round the loop counts as running, so the
// request gets 409; a pending stop cannot be cancelled. Retry once
// engine_stopped has been emitted.
func (s *Service) StartEngine(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Start()
	s.respond(w, "api.StartEngine", http.StatusAccepted, map[string]string{"status": "starting"}, err)
}

// StopEngine handles POST /api/v1/admin/engine/stop. The loop stops after
// the current round settles.
func (s *Service) StopEngine(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// SetWindow handles PUT /api/v1/admin/engine/window
func (s *Service) SetWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if !s.decode(w, r, &req) {
		return
	}
	window := time.Duration(req.Seconds) * time.Second
	err := s.engine.SetBettingWindow(window)
	s.respond(w, "api.SetWindow", http.StatusOK, map[string]interface{}{
		"betting_window_seconds": req.Seconds,
	}, err)
}

// AdjustBalance handles POST /api/v1/admin/participants/{userID}/adjust
func (s *Service) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Amount.IsZero() {
		writeError(w, "amount must be non-zero", http.StatusBadRequest)
		return
	}
	p, err := s.engine.AdjustBalance(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	s.respond(w, "api.AdjustBalance", http.StatusOK, p, err)
}

// DeleteParticipant handles DELETE /api/v1/admin/participants/{userID}
func (s *Service) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	err := s.engine.DeleteParticipant(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.respond(w, "api.DeleteParticipant", 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
