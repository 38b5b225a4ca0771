// Package gateway provides market data sources. The simulated source serves
// deterministic quotes, indicators, and sentiment for dry runs and tests.
package gateway

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/ta"
	"trading-assistant/internal/types"
)

var _ interfaces.MarketGateway = (*Sim)(nil)

// Sim is a deterministic simulated market gateway. Each symbol gets a price
// series seeded from the configured seed plus the symbol name, so runs are
// reproducible and symbols are uncorrelated.
type Sim struct {
	seed int64
	now  func() time.Time

	mu     sync.Mutex
	series map[string][]candle
}

type candle struct {
	high, low, close float64
	volume           int64
}

// NewSim creates a simulated gateway. A zero seed selects a fixed default.
func NewSim(seed int64) *Sim {
	if seed == 0 {
		seed = 42
	}
	return &Sim{
		seed:   seed,
		now:    time.Now,
		series: make(map[string][]candle),
	}
}

const simHistoryDays = 120

func (s *Sim) symbolSeries(symbol string) []candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.series[symbol]; ok {
		return c
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))

	price := 50.0 + rng.Float64()*200.0
	drift := (rng.Float64() - 0.45) * 0.002
	series := make([]candle, simHistoryDays)
	for i := range series {
		price *= 1 + drift + rng.NormFloat64()*0.015
		if price < 1 {
			price = 1
		}
		spread := price * (0.005 + rng.Float64()*0.01)
		series[i] = candle{
			high:   price + spread,
			low:    math.Max(price-spread, 0.01),
			close:  price,
			volume: 500_000 + rng.Int63n(5_000_000),
		}
	}
	s.series[symbol] = series
	return series
}

// GetQuote returns the latest simulated quote for the symbol.
func (s *Sim) GetQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, &types.DataUnavailableError{Symbol: symbol, Source: "quote", Err: err}
	}
	series := s.symbolSeries(symbol)
	last := series[len(series)-1]
	prev := series[len(series)-2]
	change := last.close - prev.close
	return types.Quote{
		Symbol:    symbol,
		Last:      last.close,
		Change:    change,
		ChangePct: change / prev.close * 100,
		Volume:    last.volume,
		AsOf:      s.now().UTC(),
	}, nil
}

// GetHistorical computes indicators from the trailing days of the series.
func (s *Sim) GetHistorical(ctx context.Context, symbol string, days int) (types.Indicators, error) {
	if err := ctx.Err(); err != nil {
		return types.Indicators{}, &types.DataUnavailableError{Symbol: symbol, Source: "historical", Err: err}
	}
	series := s.symbolSeries(symbol)
	if days <= 0 || days > len(series) {
		days = len(series)
	}
	series = series[len(series)-days:]

	closes := make([]float64, len(series))
	highs := make([]float64, len(series))
	lows := make([]float64, len(series))
	for i, c := range series {
		closes[i] = c.close
		highs[i] = c.high
		lows[i] = c.low
	}

	var ind types.Indicators
	ind.SMA = map[int]float64{}
	for _, n := range []int{20, 50} {
		if v := ta.SMA(closes, n); !math.IsNaN(v) {
			ind.SMA[n] = v
		}
	}
	if v := ta.RSI(closes, 14); !math.IsNaN(v) {
		ind.RSI = v
	}
	mid, up, low := ta.Bollinger(closes, 20, 2)
	if !math.IsNaN(mid) {
		ind.BB.Middle, ind.BB.Upper, ind.BB.Lower = mid, up, low
	}
	if v := ta.ATR(highs, lows, closes, 14); !math.IsNaN(v) {
		ind.ATR = v
	}
	if len(ind.SMA) == 0 {
		return types.Indicators{}, &types.DataUnavailableError{
			Symbol: symbol, Source: "historical", Err: errors.New("insufficient history"),
		}
	}
	return ind, nil
}

// GetNews derives a stable pseudo-sentiment from the symbol's recent trend.
func (s *Sim) GetNews(ctx context.Context, symbol string) (types.NewsSentiment, error) {
	if err := ctx.Err(); err != nil {
		return types.NewsSentiment{}, &types.DataUnavailableError{Symbol: symbol, Source: "news", Err: err}
	}
	series := s.symbolSeries(symbol)
	recent := series[len(series)-5:]
	trend := (recent[len(recent)-1].close - recent[0].close) / recent[0].close
	score := math.Max(-1, math.Min(1, trend*10))
	summary := "mixed coverage"
	switch {
	case score > 0.3:
		summary = "broadly positive coverage"
	case score < -0.3:
		summary = "broadly negative coverage"
	}
	return types.NewsSentiment{
		Symbol:  symbol,
		Score:   score,
		Summary: summary,
		Sources: 3 + len(symbol)%4,
	}, nil
}
