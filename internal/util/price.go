// Package util holds small numeric helpers shared across the bot.
package util

import "math"

// RoundToTick snaps a price to the exchange tick size, half away from zero.
// A non-positive tick leaves the price unchanged.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}
