package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 4.0, SMA(closes, 3), 1e-9)
	assert.InDelta(t, 3.0, SMA(closes, 5), 1e-9)
	assert.True(t, math.IsNaN(SMA(closes, 6)))
	assert.True(t, math.IsNaN(SMA(closes, 0)))
}

func TestRSIAllGains(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	assert.InDelta(t, 100.0, RSI(closes, 5), 1e-9)
}

func TestRSIMixed(t *testing.T) {
	closes := []float64{10, 11, 10, 11, 10, 11}
	rsi := RSI(closes, 5)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestBollingerOrdering(t *testing.T) {
	closes := []float64{9, 10, 11, 10, 9, 10, 11, 10, 9, 10}
	mid, up, low := Bollinger(closes, 10, 2)
	assert.Greater(t, up, mid)
	assert.Less(t, low, mid)
}

func TestATRConstantRange(t *testing.T) {
	highs := []float64{11, 11, 11, 11, 11}
	lows := []float64{9, 9, 9, 9, 9}
	closes := []float64{10, 10, 10, 10, 10}
	assert.InDelta(t, 2.0, ATR(highs, lows, closes, 4), 1e-9)
}
