// Package market animates fund prices with a biased random walk. The
// numbers are cosmetic; real prices come from the backend.
package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Instrument is a fund as seen by the simulator.
type Instrument struct {
	ID         string
	Ticker     string
	BasePrice  float64
	Volatility float64
	Trend      float64
}

// Quote is the simulated state of one instrument.
type Quote struct {
	ID        string
	Ticker    string
	Price     float64
	DayChange float64 // percent against BasePrice
}

// DefaultInstruments mirrors the fund catalogue.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{ID: "fund_001", Ticker: "XANF-ETF", BasePrice: 124.56, Volatility: 0.001, Trend: 0.0005},
		{ID: "fund_002", Ticker: "XANF-BGF", BasePrice: 187.34, Volatility: 0.0015, Trend: 0.001},
		{ID: "fund_003", Ticker: "XANF-IIF", BasePrice: 256.78, Volatility: 0.0025, Trend: 0.002},
	}
}

// Simulator holds current prices for a set of instruments. It is safe
// for concurrent use.
type Simulator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	inst   []Instrument
	prices []float64
}

// NewSimulator starts every instrument at its base price. A nil rng
// seeds one from the clock.
func NewSimulator(rng *rand.Rand, instruments ...Instrument) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	prices := make([]float64, len(instruments))
	for i, in := range instruments {
		prices[i] = in.BasePrice
	}
	return &Simulator{
		rng:    rng,
		inst:   append([]Instrument(nil), instruments...),
		prices: prices,
	}
}

// NextPrice moves price one step. The walk leans slightly upward and
// never falls below half of the current price.
func NextPrice(rng *rand.Rand, price, volatility float64) float64 {
	change := (rng.Float64() - 0.48) * volatility * price
	return max(price+change, price*0.5)
}

// Step advances every instrument once and returns the new quotes.
func (s *Simulator) Step() []Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, in := range s.inst {
		s.prices[i] = NextPrice(s.rng, s.prices[i], in.Volatility)
	}
	return s.quotesLocked()
}

// Quotes returns the current quotes without moving prices.
func (s *Simulator) Quotes() []Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotesLocked()
}

func (s *Simulator) quotesLocked() []Quote {
	out := make([]Quote, len(s.inst))
	for i, in := range s.inst {
		out[i] = Quote{
			ID:        in.ID,
			Ticker:    in.Ticker,
			Price:     s.prices[i],
			DayChange: (s.prices[i] - in.BasePrice) / in.BasePrice * 100,
		}
	}
	return out
}

// Chart generates a trending, noisy series of points starting a little
// below the base price. Points never drop under 70% of the base. It
// returns nil when points is not positive.
func (s *Simulator) Chart(in Instrument, points int) []float64 {
	if points <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]float64, 0, points)
	price := in.BasePrice * 0.95
	for i := 0; i < points; i++ {
		noise := (s.rng.Float64() - 0.5) * in.BasePrice * 0.02
		trend := in.Trend * float64(i) * in.BasePrice * 0.01
		price = max(price+noise+trend, in.BasePrice*0.7)
		data = append(data, price)
	}
	return data
}

// Run steps the simulator every interval and hands the quotes to fn
// until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration, fn func([]Quote)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn(s.Step())
		}
	}
}
