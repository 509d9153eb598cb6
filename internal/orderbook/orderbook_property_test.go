package orderbook

import (
	"testing"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"pgregory.net/rapid"
)

// Random orders and cancels keep the book consistent, never crossed, and
// every fill prices at the resting side.
func TestProperty_BookStaysConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook("PROP")
		limits := make(map[uint64]int64)
		var nextID uint64

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if nextID > 0 && rapid.IntRange(0, 3).Draw(t, "op") == 0 {
				id := rapid.Uint64Range(1, nextID).Draw(t, "cancelID")
				size := rapid.Int64Range(1, 60).Draw(t, "cancelSize")
				before, resting := ob.Order(id)
				removed, gone, err := ob.HandleCancel(id, size)
				if !resting {
					if err == nil {
						t.Fatalf("cancel of absent order %d succeeded", id)
					}
					continue
				}
				if err != nil {
					t.Fatalf("cancel of resting order %d: %v", id, err)
				}
				if removed != min(size, before.Remaining) {
					t.Fatalf("cancel removed %d, want %d", removed, min(size, before.Remaining))
				}
				if gone == ob.Contains(id) {
					t.Fatalf("cancel reported gone=%v but book contains=%v", gone, ob.Contains(id))
				}
			} else {
				nextID++
				side := rapid.SampledFrom([]domain.Side{domain.SideBuy, domain.SideSell}).Draw(t, "side")
				price := rapid.Int64Range(90, 110).Draw(t, "price")
				size := rapid.Int64Range(1, 50).Draw(t, "size")
				limits[nextID] = price

				order := &domain.Order{ID: nextID, Side: side, Price: price, Remaining: size, SequenceID: nextID}
				fills, err := ob.MatchLimit(order)
				if err != nil {
					t.Fatalf("match: %v", err)
				}

				var filled int64
				for _, f := range fills {
					if f.Price != limits[f.RestingID] {
						t.Fatalf("fill at %d, resting order %d rests at %d", f.Price, f.RestingID, limits[f.RestingID])
					}
					if side == domain.SideBuy && f.Price > price || side == domain.SideSell && f.Price < price {
						t.Fatalf("fill at %d violates limit %d for %s", f.Price, price, side)
					}
					filled += f.Size
				}
				if filled+order.Remaining != size {
					t.Fatalf("filled %d + resting %d != size %d", filled, order.Remaining, size)
				}
			}

			if err := ob.CheckInvariants(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
	})
}
