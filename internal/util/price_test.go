package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		x    float64
		tick float64
		want float64
	}{
		{1.234, 0.01, 1.23},
		{1.235, 0.01, 1.24},
		{10.0, 0.01, 10.0},
		{5.123, 0.05, 5.10},
		{5.126, 0.05, 5.15},
		{1.234, 0, 1.234},  // zero tick is a no-op
		{1.234, -1, 1.234}, // negative tick is a no-op
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
		}
	}
}
