package wheel

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/metrics"
)

// ErrSourceUnavailable is returned by a Source that could not produce a number.
var ErrSourceUnavailable = errors.New("wheel: random source unavailable")

// DefaultSourceURL is the public random-integer service used by default.
const DefaultSourceURL = "https://csrng.net/csrng/csrng.php?min=1&max=1500000"

// Source produces raw wheel numbers in [MinNumber, MaxNumber].
type Source interface {
	Number(ctx context.Context) (int, error)
}

// HTTPSource asks a remote random-integer service for a number and folds
// it onto the wheel. The service answers with [{"status":"success","random":N}].
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source that gives up after timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if url == "" {
		url = DefaultSourceURL
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type rngResponse struct {
	Status string `json:"status"`
	Random *int64 `json:"random"`
}

func (s *HTTPSource) Number(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var body []rngResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}
	if len(body) == 0 || body[0].Random == nil {
		return 0, fmt.Errorf("%w: empty payload", ErrSourceUnavailable)
	}
	if body[0].Status != "" && body[0].Status != "success" {
		return 0, fmt.Errorf("%w: status %q", ErrSourceUnavailable, body[0].Status)
	}

	n := int(*body[0].Random % Pockets)
	if n < 0 {
		n += Pockets
	}
	return n, nil
}

// CryptoSource draws numbers from the local CSPRNG.
type CryptoSource struct{}

func (CryptoSource) Number(_ context.Context) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(Pockets))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return int(v.Int64()), nil
}

// Generator picks round outcomes. It prefers the primary source and falls
// back to the local CSPRNG whenever the primary fails or misbehaves, so
// Next always returns a valid number.
type Generator struct {
	primary  Source
	fallback Source
	log      *slog.Logger
}

// NewGenerator creates a generator. A nil primary means local-only.
func NewGenerator(primary Source, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		primary:  primary,
		fallback: CryptoSource{},
		log:      log,
	}
}

// Next returns the outcome for a new round.
func (g *Generator) Next(ctx context.Context) int {
	const op = "wheel.Generator.Next"
	log := g.log.With(slog.String("op", op))

	if g.primary != nil {
		n, err := g.primary.Number(ctx)
		if err == nil && n >= MinNumber && n <= MaxNumber {
			metrics.OutcomeSource.WithLabelValues("primary").Inc()
			return n
		}
		if err == nil {
			err = fmt.Errorf("%w: out of range %d", ErrSourceUnavailable, n)
		}
		log.Warn("primary random source failed, using local fallback", sl.Err(err))
	}

	n, err := g.fallback.Number(ctx)
	if err != nil {
		// crypto/rand does not fail on supported platforms; keep the wheel moving.
		log.Error("local random source failed", sl.Err(err))
		n = int(time.Now().UnixNano() % Pockets)
	}
	metrics.OutcomeSource.WithLabelValues("fallback").Inc()
	return n
}
