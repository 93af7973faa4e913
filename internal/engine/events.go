package engine

import (
	"time"

	"github.com/spinroom/roulette-engine/internal/metrics"
)

// EventType names a round-engine notification.
type EventType string

const (
	EventRoundOpened   EventType = "round_opened"
	EventBetPlaced     EventType = "bet_placed"
	EventTimerTick     EventType = "timer_tick"
	EventBettingClosed EventType = "betting_closed"
	EventRevealFrame   EventType = "reveal_frame"
	EventRoundSettled  EventType = "round_settled"
	EventEngineStarted EventType = "engine_started"
	EventEngineStopped EventType = "engine_stopped"
	EventEngineHalted  EventType = "engine_halted"
)

// Event is sent to subscribers on every state transition, timer tick,
// accepted bet and reveal frame. Data holds a type-specific payload.
type Event struct {
	Type    EventType   `json:"type"`
	RoundID string      `json:"round_id,omitempty"`
	At      time.Time   `json:"at"`
	Data    interface{} `json:"data,omitempty"`
}

// TickData is the payload of timer_tick.
type TickData struct {
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// FrameData is the payload of reveal_frame.
type FrameData struct {
	Frame  int   `json:"frame"`
	Frames int   `json:"frames"`
	Number int   `json:"number"`
	Window []int `json:"window"`
}

// ClosedData is the payload of betting_closed.
type ClosedData struct {
	Bets int `json:"bets"`
}

// HaltData is the payload of engine_halted.
type HaltData struct {
	Error string `json:"error"`
}

type subscriber struct {
	name string
	ch   chan Event
}

// Subscribe registers an observer. Events are delivered without blocking
// the round loop: when the buffer is full the event is dropped for that
// subscriber. The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe(name string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{name: name, ch: make(chan Event, buffer)}

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = sub
	e.subsMu.Unlock()

	return sub.ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub.ch)
		}
	}
}

func (e *Engine) emit(t EventType, roundID string, data interface{}) {
	ev := Event{Type: t, RoundID: roundID, At: e.now(), Data: data}

	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(sub.name).Inc()
		}
	}
}
