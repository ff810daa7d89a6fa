// Package sizing implements Kelly-criterion position sizing for the bot.
package sizing

import (
	"errors"
	"fmt"
	"math"
)

// GoldenRatio is the fixed fractional-Kelly safety multiplier.
// It is intentionally not user-configurable.
const GoldenRatio = 0.618

// ErrInvalidParameter is returned when a sizing input is outside its valid range.
var ErrInvalidParameter = errors.New("invalid sizing parameter")

// KellyPercentage computes the optimal Kelly fraction K = W - (1-W)/R for a
// win probability W in [0,1] and win/loss ratio R > 0. A negative result
// means no edge, so it is clamped to zero.
func KellyPercentage(winProbability, winLossRatio float64) (float64, error) {
	if winProbability < 0 || winProbability > 1 {
		return 0, fmt.Errorf("%w: win probability %.4f must be between 0 and 1", ErrInvalidParameter, winProbability)
	}
	if winLossRatio <= 0 {
		return 0, fmt.Errorf("%w: win/loss ratio %.4f must be positive", ErrInvalidParameter, winLossRatio)
	}

	kelly := winProbability - (1-winProbability)/winLossRatio
	return math.Max(0, kelly), nil
}

// FractionalKelly discounts a full Kelly fraction by the golden-ratio multiplier.
func FractionalKelly(fullKelly float64) (float64, error) {
	if fullKelly < 0 {
		return 0, fmt.Errorf("%w: full Kelly fraction %.4f cannot be negative", ErrInvalidParameter, fullKelly)
	}
	return fullKelly * GoldenRatio, nil
}

// PositionSize converts a fractional-Kelly allocation into a whole-contract
// count. The allocation totalCapital*fractionalKelly is capped at
// totalCapital*maxPositionPct, divided by the per-contract price, and floored.
// maxPositionPct is optional and defaults to 1.0 (no cap).
//
// A zero contract price is rejected with ErrInvalidParameter rather than
// yielding a zero-contract result; there is no valid contract at price zero.
func PositionSize(totalCapital, fractionalKelly, contractPrice float64, maxPositionPct ...float64) (int, error) {
	maxPct := 1.0
	if len(maxPositionPct) > 0 {
		maxPct = maxPositionPct[0]
	}

	if totalCapital <= 0 {
		return 0, fmt.Errorf("%w: total capital %.2f must be positive", ErrInvalidParameter, totalCapital)
	}
	if fractionalKelly < 0 || fractionalKelly > 1 {
		return 0, fmt.Errorf("%w: fractional Kelly %.4f must be between 0 and 1", ErrInvalidParameter, fractionalKelly)
	}
	if contractPrice <= 0 {
		return 0, fmt.Errorf("%w: contract price %.2f must be positive", ErrInvalidParameter, contractPrice)
	}
	if maxPct < 0 || maxPct > 1 {
		return 0, fmt.Errorf("%w: max position percentage %.4f must be between 0 and 1", ErrInvalidParameter, maxPct)
	}

	allocation := totalCapital * fractionalKelly
	if ceiling := totalCapital * maxPct; allocation > ceiling {
		allocation = ceiling
	}

	return int(allocation / contractPrice), nil
}
