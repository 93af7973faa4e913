package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spinroom/roulette-engine/internal/engine"
	"github.com/spinroom/roulette-engine/internal/market"
	"github.com/spinroom/roulette-engine/internal/progression"
	"github.com/spinroom/roulette-engine/internal/store"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var cd *progression.CooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", fmt.Sprint(retryAfter(cd)))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:             "daily reward already claimed",
			RetryAfterSeconds: retryAfter(cd),
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotRegistered):
		writeError(w, "participant not registered", http.StatusNotFound)
	case errors.Is(err, store.ErrRoundNotFound):
		writeError(w, "round not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInsufficientBalance):
		writeError(w, "insufficient balance", http.StatusPaymentRequired)
	case errors.Is(err, store.ErrDuplicateBet):
		writeError(w, "already placed a bet this round", http.StatusConflict)
	case errors.Is(err, engine.ErrBettingClosed):
		writeError(w, "betting is closed", http.StatusConflict)
	case errors.Is(err, engine.ErrAlreadyRunning):
		writeError(w, "round loop already running", http.StatusConflict)
	case errors.Is(err, engine.ErrInvalidColor),
		errors.Is(err, engine.ErrInvalidWindow),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, market.ErrInvalidItem):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func retryAfter(cd *progression.CooldownError) int64 {
	return int64(math.Ceil(cd.Remaining.Seconds()))
}

// validationMessage renders validator failures as one readable line.
func validationMessage(errs validator.ValidationErrors) string {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid url", err.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

// isDomainError reports whether err is an expected per-request failure
// rather than an internal one.
func isDomainError(err error) bool {
	var cd *progression.CooldownError
	if errors.As(err, &cd) {
		return true
	}
	for _, target := range []error{
		store.ErrNotRegistered,
		store.ErrRoundNotFound,
		store.ErrInsufficientBalance,
		store.ErrDuplicateBet,
		store.ErrInvalidAmount,
		engine.ErrBettingClosed,
		engine.ErrAlreadyRunning,
		engine.ErrInvalidColor,
		engine.ErrInvalidWindow,
		market.ErrInvalidItem,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
