// Package progression tracks experience, levels and the daily reward.
//
// Levels come from a table of {level, daily, next_xp, total_xp} rows where
// total_xp is the cumulative xp needed to reach the level. Awarding xp may
// climb several levels at once; the daily reward rate always follows the
// final level.
package progression

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/spinroom/roulette-engine/internal/model"
)

// DailyCooldown is how long a participant waits between daily claims.
const DailyCooldown = 24 * time.Hour

var (
	// ErrCooldownActive is returned when a daily claim is attempted too early.
	ErrCooldownActive = errors.New("progression: daily reward on cooldown")

	// ErrInvalidTable is returned when a level table fails validation.
	ErrInvalidTable = errors.New("progression: invalid level table")
)

// CooldownError carries the time left before the next claim.
type CooldownError struct {
	Remaining time.Duration
	NextClaim time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s remaining", ErrCooldownActive, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

//go:embed levels.yaml
var defaultLevels []byte

type tableFile struct {
	Levels []struct {
		Level   int    `yaml:"level"`
		Daily   string `yaml:"daily"`
		NextXP  int64  `yaml:"next_xp"`
		TotalXP int64  `yaml:"total_xp"`
	} `yaml:"levels"`
}

// Tracker applies xp awards and daily claims against a level table.
// It holds no per-participant state and is safe for concurrent use.
type Tracker struct {
	levels []model.LevelEntry // index i holds level i+1
}

// NewTracker validates entries and builds a tracker. Levels must start at 1,
// be contiguous, and have strictly increasing total_xp.
func NewTracker(entries []model.LevelEntry) (*Tracker, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	levels := make([]model.LevelEntry, len(entries))
	copy(levels, entries)
	for i, e := range levels {
		if e.Level != i+1 {
			return nil, fmt.Errorf("%w: row %d has level %d, want %d", ErrInvalidTable, i, e.Level, i+1)
		}
		if e.Daily.IsNegative() {
			return nil, fmt.Errorf("%w: level %d has negative daily", ErrInvalidTable, e.Level)
		}
		if i == 0 && e.TotalXP != 0 {
			return nil, fmt.Errorf("%w: level 1 must start at 0 xp", ErrInvalidTable)
		}
		if i > 0 && e.TotalXP <= levels[i-1].TotalXP {
			return nil, fmt.Errorf("%w: total_xp not increasing at level %d", ErrInvalidTable, e.Level)
		}
	}
	return &Tracker{levels: levels}, nil
}

// LoadTable parses a YAML level table.
func LoadTable(r io.Reader) ([]model.LevelEntry, error) {
	var f tableFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode level table: %w", err)
	}
	entries := make([]model.LevelEntry, 0, len(f.Levels))
	for _, row := range f.Levels {
		daily, err := decimal.NewFromString(row.Daily)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d daily %q: %v", ErrInvalidTable, row.Level, row.Daily, err)
		}
		entries = append(entries, model.LevelEntry{
			Level:   row.Level,
			Daily:   daily,
			NextXP:  row.NextXP,
			TotalXP: row.TotalXP,
		})
	}
	return entries, nil
}

// Load builds a tracker from a YAML file, or from the built-in table when
// path is empty.
func Load(path string) (*Tracker, error) {
	var r io.Reader = bytes.NewReader(defaultLevels)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open level table: %w", err)
		}
		defer f.Close()
		r = f
	}
	entries, err := LoadTable(r)
	if err != nil {
		return nil, err
	}
	return NewTracker(entries)
}

// Default returns a tracker over the built-in table.
func Default() *Tracker {
	t, err := Load("")
	if err != nil {
		panic("progression: built-in level table: " + err.Error())
	}
	return t
}

// MaxLevel is the highest reachable level.
func (t *Tracker) MaxLevel() int {
	return len(t.levels)
}

// Entry returns the row for a level, clamped to the table.
func (t *Tracker) Entry(level int) model.LevelEntry {
	if level < 1 {
		level = 1
	}
	if level > len(t.levels) {
		level = len(t.levels)
	}
	return t.levels[level-1]
}

// LevelFor returns the level reached with xp total experience.
func (t *Tracker) LevelFor(xp int64) int {
	level := 1
	for level < len(t.levels) && xp >= t.levels[level].TotalXP {
		level++
	}
	return level
}

// AwardXP adds amount xp to p and climbs as many levels as the new total
// allows, updating the daily rate to the final level. It returns the number
// of levels gained. Non-positive amounts are ignored.
func (t *Tracker) AwardXP(p *model.Participant, amount int64) int {
	if amount <= 0 {
		return 0
	}
	p.XP += amount
	if p.Level < 1 {
		p.Level = 1
	}

	gained := 0
	for p.Level < len(t.levels) && p.XP >= t.levels[p.Level].TotalXP {
		p.Level++
		gained++
	}
	p.Daily = t.Entry(p.Level).Daily
	return gained
}

// ClaimDaily credits the daily reward to p if its cooldown has passed and
// starts a new 24h cooldown. It returns the amount credited, or a
// *CooldownError wrapping ErrCooldownActive.
func (t *Tracker) ClaimDaily(p *model.Participant, now time.Time) (decimal.Decimal, error) {
	if now.Before(p.DailyCooldown) {
		return decimal.Zero, &CooldownError{
			Remaining: p.DailyCooldown.Sub(now),
			NextClaim: p.DailyCooldown,
		}
	}
	reward := p.Daily
	p.Balance = p.Balance.Add(reward).Round(model.MoneyScale)
	p.DailyCooldown = now.Add(DailyCooldown)
	return reward, nil
}

// XPForBet is the experience earned by placing a bet: one point per whole
// unit staked, at least one.
func XPForBet(amount decimal.Decimal) int64 {
	xp := amount.Floor().IntPart()
	if xp < 1 {
		return 1
	}
	return xp
}

// NewParticipant returns a participant with registration defaults for this
// table: balance 100, level 1, default bet 1.00, claimable immediately.
func (t *Tracker) NewParticipant(id, name string, now time.Time) *model.Participant {
	return &model.Participant{
		ID:            id,
		Name:          name,
		Balance:       decimal.NewFromInt(100),
		XP:            0,
		Level:         1,
		Daily:         t.Entry(1).Daily,
		DailyCooldown: now,
		DefaultBet:    decimal.NewFromInt(1),
		CreatedAt:     now,
	}
}
