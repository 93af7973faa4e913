// Package wheel holds the roulette wheel: the fixed number→color table,
// color payout multipliers, the physical pocket order, and the outcome
// generator that picks each round's number.
//
// The table is a lookup, not arithmetic: 0 is GREEN, 1–7 RED, 8–14 BLACK.
// Multipliers are RED 2x, BLACK 2x, GREEN 14x.
package wheel

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
)

const (
	// Pockets is the number of pockets on the wheel.
	Pockets = 15

	// MinNumber and MaxNumber bound every outcome.
	MinNumber = 0
	MaxNumber = Pockets - 1
)

var colors = [Pockets]model.Color{
	model.Green,
	model.Red, model.Red, model.Red, model.Red, model.Red, model.Red, model.Red,
	model.Black, model.Black, model.Black, model.Black, model.Black, model.Black, model.Black,
}

var multipliers = map[model.Color]decimal.Decimal{
	model.Red:   decimal.NewFromInt(2),
	model.Black: decimal.NewFromInt(2),
	model.Green: decimal.NewFromInt(14),
}

// Sequence is the physical pocket order around the wheel.
var Sequence = [Pockets]int{1, 14, 2, 13, 3, 12, 4, 0, 11, 5, 10, 6, 9, 7, 8}

// ColorOf returns the color of pocket n. ok is false when n is off the wheel.
func ColorOf(n int) (c model.Color, ok bool) {
	if n < MinNumber || n > MaxNumber {
		return "", false
	}
	return colors[n], true
}

// MustColorOf is ColorOf for numbers already known to be in range.
func MustColorOf(n int) model.Color {
	c, ok := ColorOf(n)
	if !ok {
		panic("wheel: number out of range")
	}
	return c
}

// Multiplier returns the payout multiplier for a winning bet on c.
// Unknown colors pay nothing.
func Multiplier(c model.Color) decimal.Decimal {
	if m, ok := multipliers[c]; ok {
		return m
	}
	return decimal.Zero
}

// position returns the index of n within Sequence, or -1.
func position(n int) int {
	for i, v := range Sequence {
		if v == n {
			return i
		}
	}
	return -1
}

// Window returns the full strip of pockets as seen with center in the
// middle slot (index Pockets/2).
func Window(center int) []int {
	pos := position(center)
	if pos < 0 {
		return nil
	}
	half := Pockets / 2
	out := make([]int, Pockets)
	for i := range out {
		out[i] = Sequence[(pos-half+i+Pockets)%Pockets]
	}
	return out
}

// RevealPath returns the pocket under the pointer for each animation frame
// while the wheel spins from the previous result to the new one. The wheel
// decelerates with a quadratic ease-out, passes extraRotations full turns,
// and the last frame always lands on to.
func RevealPath(from, to, frames, extraRotations int) []int {
	if frames <= 0 {
		return nil
	}
	start := position(from)
	end := position(to)
	if start < 0 || end < 0 {
		return nil
	}
	if extraRotations < 0 {
		extraRotations = 0
	}

	distance := float64((end-start+Pockets)%Pockets + Pockets*extraRotations)
	path := make([]int, frames)
	for f := 0; f < frames; f++ {
		t := float64(f) / float64(frames)
		progress := 1 - (1-t)*(1-t)
		idx := int(math.Round(float64(start)+progress*distance)) % Pockets
		path[f] = Sequence[idx]
	}
	path[frames-1] = to
	return path
}
