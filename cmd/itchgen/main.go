// Command itchgen writes a synthetic ITCH 5.0 file with realistic order flow
// around a drifting mid price, for replaying without an exchange capture.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/itch"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

type generator struct {
	rng     *rand.Rand
	symbols []string
	mids    map[string]int64
	live    []liveOrder
	nextID  uint64
	clock   uint64
}

type liveOrder struct {
	id     uint64
	symbol string
	size   int64
}

func main() {
	out := flag.String("out", "synthetic.itch", "output file")
	n := flag.Int("n", 100_000, "number of order events")
	symbolList := flag.String("symbols", "AAPL,MSFT,GOOGL,AMZN,NVDA", "comma separated symbols")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	telemetry.InitLogger("itchgen", "info")
	if err := generate(*out, *n, strings.Split(*symbolList, ","), *seed); err != nil {
		telemetry.Logger.Error("generation failed", "error", err)
		os.Exit(1)
	}
	telemetry.Logger.Info("wrote feed", "file", *out, "events", *n)
}

func generate(path string, n int, symbols []string, seed uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	g := &generator{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		symbols: symbols,
		mids:    make(map[string]int64),
		clock:   34_200_000_000_000, // 09:30
	}
	for _, s := range symbols {
		g.mids[s] = 1_000_000 + g.rng.Int64N(2_000_000) // $100.0000 to $300.0000
	}

	enc := itch.NewEncoder(f)
	// System event: start of market hours
	if err := enc.WriteRaw([]byte{'S', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 'Q'}); err != nil {
		return err
	}
	for range n {
		if err := enc.Encode(g.next()); err != nil {
			return err
		}
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// next draws adds, cancels, deletes and replaces in roughly the mix a
// real feed carries.
func (g *generator) next() domain.Event {
	g.clock += uint64(1_000 + g.rng.IntN(50_000))

	roll := g.rng.IntN(100)
	if len(g.live) == 0 || roll < 50 {
		return g.add()
	}

	i := g.rng.IntN(len(g.live))
	o := g.live[i]
	switch {
	case roll < 70:
		g.drop(i)
		return domain.CancelOrder{Timestamp: g.clock, ID: o.id, Size: domain.CancelAll}
	case roll < 80:
		size := 1 + g.rng.Int64N(o.size)
		if size >= o.size {
			g.drop(i)
		} else {
			g.live[i].size -= size
		}
		return domain.CancelOrder{Timestamp: g.clock, ID: o.id, Size: size}
	default:
		g.nextID++
		size := g.size()
		g.live[i] = liveOrder{id: g.nextID, symbol: o.symbol, size: size}
		return domain.ReplaceOrder{
			Timestamp: g.clock,
			OldID:     o.id,
			NewID:     g.nextID,
			Price:     g.price(o.symbol, g.rng.IntN(2) == 0),
			Size:      size,
		}
	}
}

func (g *generator) add() domain.Event {
	symbol := g.symbols[g.rng.IntN(len(g.symbols))]
	// Random walk in 1 cent steps
	g.mids[symbol] += int64(g.rng.IntN(3)-1) * 100

	side := domain.SideBuy
	if g.rng.IntN(2) == 0 {
		side = domain.SideSell
	}
	g.nextID++
	size := g.size()
	g.live = append(g.live, liveOrder{id: g.nextID, symbol: symbol, size: size})
	return domain.NewOrder{
		Timestamp: g.clock,
		ID:        g.nextID,
		Symbol:    symbol,
		Side:      side,
		Price:     g.price(symbol, side == domain.SideBuy),
		Size:      size,
	}
}

// price is near the mid, occasionally through it so orders cross.
func (g *generator) price(symbol string, buy bool) int64 {
	offset := int64(g.rng.IntN(20)-3) * 100
	if buy {
		return g.mids[symbol] - offset
	}
	return g.mids[symbol] + offset
}

func (g *generator) size() int64 {
	return int64(1+g.rng.IntN(10)) * 100
}

// drop forgets an order. The generator does not track fills, so some
// later cancels hit orders the engine already filled; replay counts those
// as unrouted, as it would on a real feed.
func (g *generator) drop(i int) {
	last := len(g.live) - 1
	g.live[i] = g.live[last]
	g.live = g.live[:last]
}
