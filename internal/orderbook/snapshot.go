package orderbook

import (
	"errors"
	"fmt"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// BestBid returns the highest bid and the volume resting there.
func (ob *OrderBook) BestBid() (domain.Quote, bool) {
	return quote(ob.BuyBook)
}

// BestAsk returns the lowest ask and the volume resting there.
func (ob *OrderBook) BestAsk() (domain.Quote, bool) {
	return quote(ob.SellBook)
}

func quote(b *Book) (domain.Quote, bool) {
	level := b.best()
	if level == nil {
		return domain.Quote{}, false
	}
	return domain.Quote{Price: level.Price, Quantity: level.TotalVolume}, true
}

// Top returns the best bid and ask.
func (ob *OrderBook) Top() domain.TopOfBook {
	top := domain.TopOfBook{Symbol: ob.Symbol}
	if q, ok := ob.BestBid(); ok {
		top.Bid = &q
	}
	if q, ok := ob.BestAsk(); ok {
		top.Ask = &q
	}
	return top
}

// GetL2Snapshot returns an aggregated L2 order book snapshot.
// depth <= 0 returns every level.
func (ob *OrderBook) GetL2Snapshot(depth int) *domain.L2OrderBook {
	return &domain.L2OrderBook{
		Symbol: ob.Symbol,
		Bids:   aggregateLevels(ob.BuyBook, depth),
		Asks:   aggregateLevels(ob.SellBook, depth),
	}
}

// aggregateLevels collects price levels best first.
func aggregateLevels(book *Book, depth int) []domain.PriceLevel {
	n := book.Len()
	if depth > 0 && n > depth {
		n = depth
	}
	levels := make([]domain.PriceLevel, 0, n)
	book.ascend(func(level *bookLevel) bool {
		if len(levels) == n {
			return false
		}
		levels = append(levels, domain.PriceLevel{
			Price:    level.Price,
			Quantity: level.TotalVolume,
			Orders:   level.Orders.Len(),
		})
		return true
	})
	return levels
}

// Orders returns copies of the resting orders on one side in priority order.
func (ob *OrderBook) Orders(side domain.Side) []domain.Order {
	book := ob.side(side)
	orders := make([]domain.Order, 0, len(ob.OrderMap))
	book.ascend(func(level *bookLevel) bool {
		for e := level.Orders.Front(); e != nil; e = e.Next() {
			orders = append(orders, *e.Value.(*domain.Order))
		}
		return true
	})
	return orders
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(orderID uint64) (domain.Order, bool) {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return domain.Order{}, false
	}
	return *entry.order, true
}

// ErrInconsistentBook is returned by CheckInvariants.
var ErrInconsistentBook = errors.New("order book inconsistent")

// CheckInvariants verifies the queue, index and ordering invariants of the
// book. A non-nil result is a bug, never a data condition.
func (ob *OrderBook) CheckInvariants() error {
	seen := 0
	for _, book := range []*Book{ob.BuyBook, ob.SellBook} {
		if len(book.LimitMap) != book.levels.Len() {
			return fmt.Errorf("%w: %s side has %d mapped levels but %d ordered levels",
				ErrInconsistentBook, book.Side, len(book.LimitMap), book.levels.Len())
		}

		var err error
		book.ascend(func(level *bookLevel) bool {
			if book.LimitMap[level.Price] != level {
				err = fmt.Errorf("%w: %s level %d not mapped", ErrInconsistentBook, book.Side, level.Price)
				return false
			}
			seen += level.Orders.Len()
			err = ob.checkLevel(book.Side, level)
			return err == nil
		})
		if err != nil {
			return err
		}
	}

	if seen != len(ob.OrderMap) {
		return fmt.Errorf("%w: %d queued orders but %d index entries", ErrInconsistentBook, seen, len(ob.OrderMap))
	}

	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if hasBid && hasAsk && bid.Price >= ask.Price {
		return fmt.Errorf("%w: crossed at bid %d ask %d", ErrInconsistentBook, bid.Price, ask.Price)
	}
	return nil
}

func (ob *OrderBook) checkLevel(side domain.Side, level *bookLevel) error {
	if level.empty() {
		return fmt.Errorf("%w: empty %s level %d", ErrInconsistentBook, side, level.Price)
	}

	var volume int64
	var lastSeq uint64
	for e := level.Orders.Front(); e != nil; e = e.Next() {
		order := e.Value.(*domain.Order)
		switch {
		case order.Side != side || order.Price != level.Price:
			return fmt.Errorf("%w: order %d (%s@%d) queued at %s@%d",
				ErrInconsistentBook, order.ID, order.Side, order.Price, side, level.Price)
		case order.Remaining <= 0:
			return fmt.Errorf("%w: order %d resting with size %d", ErrInconsistentBook, order.ID, order.Remaining)
		case order.SequenceID < lastSeq:
			return fmt.Errorf("%w: order %d out of arrival order at %d", ErrInconsistentBook, order.ID, level.Price)
		}
		entry, indexed := ob.OrderMap[order.ID]
		if !indexed || entry.element != e || entry.level != level {
			return fmt.Errorf("%w: order %d not indexed at %s@%d", ErrInconsistentBook, order.ID, side, level.Price)
		}
		volume += order.Remaining
		lastSeq = order.SequenceID
	}

	if volume != level.TotalVolume {
		return fmt.Errorf("%w: level %s@%d volume %d, orders sum %d",
			ErrInconsistentBook, side, level.Price, level.TotalVolume, volume)
	}
	return nil
}
