// Package marketdata derives trade data (candlesticks, last fill) from the
// fill stream.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

const (
	ringBufferCapacity = 100
	defaultInterval    = time.Minute
)

// RingBuffer is a fixed-size circular buffer of candlesticks.
type RingBuffer struct {
	data  [ringBufferCapacity]domain.Candlestick
	head  int // next write position
	count int
}

// Push adds a candlestick to the ring buffer.
func (rb *RingBuffer) Push(c domain.Candlestick) {
	rb.data[rb.head] = c
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// Len returns the number of stored candlesticks.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// GetRecent returns the N most recent candlesticks, oldest first.
func (rb *RingBuffer) GetRecent(n int) []domain.Candlestick {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]domain.Candlestick, n)
	start := (rb.head - n + ringBufferCapacity) % ringBufferCapacity
	for i := range n {
		result[i] = rb.data[(start+i)%ringBufferCapacity]
	}
	return result
}

// candleState tracks the building candlestick for a symbol.
type candleState struct {
	current domain.Candlestick
	hasData bool
}

// Candles aggregates fills into per-symbol candlesticks. Intervals follow
// the fill timestamps rather than the wall clock, so a replay produces the
// same candles at any speed. It satisfies publisher.Publisher.
type Candles struct {
	mu       sync.RWMutex
	interval time.Duration
	label    string
	candles  map[string]*RingBuffer
	states   map[string]*candleState
	last     map[string]domain.Fill
}

// NewCandles creates an aggregator; interval <= 0 means one minute.
func NewCandles(interval time.Duration) *Candles {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Candles{
		interval: interval,
		label:    shortDuration(interval),
		candles:  make(map[string]*RingBuffer),
		states:   make(map[string]*candleState),
		last:     make(map[string]domain.Fill),
	}
}

func (c *Candles) Name() string { return "candles" }

// Publish folds fills into the building candles.
func (c *Candles) Publish(_ context.Context, fills []domain.Fill) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range fills {
		c.update(f)
		c.last[f.Symbol] = f
	}
	return nil
}

func (c *Candles) Close() error { return nil }

// update folds one fill into the symbol's building candle, closing it first
// if the fill belongs to a later interval.
func (c *Candles) update(f domain.Fill) {
	state, exists := c.states[f.Symbol]
	if !exists {
		state = &candleState{}
		c.states[f.Symbol] = state
	}

	start := f.Timestamp - f.Timestamp%uint64(c.interval)
	if state.hasData && start != state.current.Start {
		rb, exists := c.candles[f.Symbol]
		if !exists {
			rb = &RingBuffer{}
			c.candles[f.Symbol] = rb
		}
		rb.Push(state.current)
		state.hasData = false
	}

	if !state.hasData {
		// First fill in this interval
		state.current = domain.Candlestick{
			Symbol:   f.Symbol,
			Open:     f.Price,
			High:     f.Price,
			Low:      f.Price,
			Close:    f.Price,
			Volume:   f.Size,
			Fills:    1,
			Start:    start,
			Interval: c.label,
		}
		state.hasData = true
		return
	}

	cur := &state.current
	if f.Price > cur.High {
		cur.High = f.Price
	}
	if f.Price < cur.Low {
		cur.Low = f.Price
	}
	cur.Close = f.Price
	cur.Volume += f.Size
	cur.Fills++
}

// GetCandles returns up to count completed candlesticks for a symbol
// followed by the building one.
func (c *Candles) GetCandles(symbol string, count int) []domain.Candlestick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []domain.Candlestick
	if rb, exists := c.candles[symbol]; exists {
		result = rb.GetRecent(count)
	}
	if state, exists := c.states[symbol]; exists && state.hasData {
		result = append(result, state.current)
	}
	return result
}

// LastFill returns the most recent fill for a symbol.
func (c *Candles) LastFill(symbol string) (domain.Fill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.last[symbol]
	return f, ok
}

func shortDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}
