package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spinroom/roulette-engine/internal/engine"
)

func TestArgs(t *testing.T) {
	p := NewStreamPublisher(nil, "", nil)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	args, err := p.args(engine.Event{
		Type:    engine.EventBettingClosed,
		RoundID: "r1",
		At:      at,
		Data:    engine.ClosedData{Bets: 3},
	})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if args.Stream != DefaultStream || args.MaxLen != DefaultMaxLen || !args.Approx {
		t.Errorf("stream args = %+v", args)
	}

	values := args.Values.(map[string]interface{})
	if values["type"] != "betting_closed" || values["round_id"] != "r1" {
		t.Errorf("values = %v", values)
	}
	if values["at"] != "2024-03-01T12:00:00Z" {
		t.Errorf("at = %v", values["at"])
	}
	var data engine.ClosedData
	if err := json.Unmarshal([]byte(values["data"].(string)), &data); err != nil || data.Bets != 3 {
		t.Errorf("data = %v (%v)", values["data"], err)
	}
}

func TestArgs_NoRoundOrData(t *testing.T) {
	p := NewStreamPublisher(nil, "custom", nil)
	args, err := p.args(engine.Event{Type: engine.EventEngineStarted, At: time.Now()})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if args.Stream != "custom" {
		t.Errorf("stream = %s", args.Stream)
	}
	values := args.Values.(map[string]interface{})
	if _, ok := values["round_id"]; ok {
		t.Error("round_id should be omitted")
	}
	if _, ok := values["data"]; ok {
		t.Error("data should be omitted")
	}
}

func TestArgs_UnmarshalableData(t *testing.T) {
	p := NewStreamPublisher(nil, "", nil)
	if _, err := p.args(engine.Event{Type: engine.EventBetPlaced, Data: make(chan int)}); err == nil {
		t.Error("expected marshal error")
	}
}

func TestPublishable(t *testing.T) {
	tests := []struct {
		t    engine.EventType
		want bool
	}{
		{engine.EventRoundOpened, true},
		{engine.EventBetPlaced, true},
		{engine.EventRoundSettled, true},
		{engine.EventEngineHalted, true},
		{engine.EventTimerTick, false},
		{engine.EventRevealFrame, false},
	}
	for _, tt := range tests {
		if got := Publishable(tt.t); got != tt.want {
			t.Errorf("Publishable(%s) = %v, want %v", tt.t, got, tt.want)
		}
	}
}
