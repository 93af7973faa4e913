// Package notify publishes round events to a Redis stream for consumers
// running outside the engine process, such as a chat bot refreshing its
// round display.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spinroom/roulette-engine/internal/engine"
	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/metrics"
)

const (
	DefaultStream = "roulette.events"
	DefaultMaxLen = 10000

	publishTimeout = 2 * time.Second
)

// StreamPublisher appends engine events to a capped Redis stream.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	log    *slog.Logger
}

// NewStreamPublisher creates a publisher writing to stream.
func NewStreamPublisher(rdb *redis.Client, stream string, log *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamPublisher{
		rdb:    rdb,
		stream: stream,
		maxLen: DefaultMaxLen,
		log:    log.With(slog.String("component", "notify"), slog.String("stream", stream)),
	}
}

// Run publishes events until ctx ends or events is closed. Tick and frame
// events are skipped; consumers derive the countdown from round_opened.
func (p *StreamPublisher) Run(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !Publishable(ev.Type) {
				continue
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.log.Warn("publish failed", sl.Err(err), slog.String("type", string(ev.Type)))
				metrics.EventsDropped.WithLabelValues("stream").Inc()
			}
		}
	}
}

// Publish appends one event to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, ev engine.Event) error {
	args, err := p.args(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *StreamPublisher) args(ev engine.Event) (*redis.XAddArgs, error) {
	values := map[string]interface{}{
		"type": string(ev.Type),
		"at":   ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.RoundID != "" {
		values["round_id"] = ev.RoundID
	}
	if ev.Data != nil {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", ev.Type, err)
		}
		values["data"] = string(data)
	}
	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}, nil
}

// Publishable reports whether events of type t go to the stream.
func Publishable(t engine.EventType) bool {
	switch t {
	case engine.EventTimerTick, engine.EventRevealFrame:
		return false
	}
	return true
}
