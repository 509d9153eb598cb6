package orderbook

import (
	"container/list"
	"fmt"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) cancel.
// The order carries the side and price that locate the level.
type orderEntry struct {
	order   *domain.Order
	element *list.Element
	level   *bookLevel
}

// OrderBook holds the full two-sided order book for a single symbol.
// It is not safe for concurrent use.
type OrderBook struct {
	Symbol   string
	BuyBook  *Book
	SellBook *Book
	OrderMap map[uint64]*orderEntry // orderID -> entry for O(1) lookup/cancel
}

// NewOrderBook creates a new order book for a symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:   symbol,
		BuyBook:  NewBook(domain.SideBuy),
		SellBook: NewBook(domain.SideSell),
		OrderMap: make(map[uint64]*orderEntry),
	}
}

func (ob *OrderBook) side(s domain.Side) *Book {
	if s == domain.SideBuy {
		return ob.BuyBook
	}
	return ob.SellBook
}

// MatchLimit matches an incoming limit order against the opposite side in
// price-time priority and rests whatever is left on its own side. The book
// takes ownership of order when it rests.
func (ob *OrderBook) MatchLimit(order *domain.Order) ([]domain.Fill, error) {
	if !order.Side.Valid() {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, order.Side)
	}
	if order.Price <= 0 || order.Remaining <= 0 {
		return nil, fmt.Errorf("%w: price %d size %d", domain.ErrInvalidOrder, order.Price, order.Remaining)
	}
	if _, exists := ob.OrderMap[order.ID]; exists {
		return nil, fmt.Errorf("%w: %d", domain.ErrDuplicateOrder, order.ID)
	}

	fills := ob.match(order)
	if order.Remaining > 0 {
		ob.rest(order)
	}
	return fills, nil
}

// match walks the opposite side best price first.
func (ob *OrderBook) match(taker *domain.Order) []domain.Fill {
	opposite := ob.side(taker.Side.Opposite())

	var fills []domain.Fill
	for taker.Remaining > 0 {
		level := opposite.best()
		if level == nil {
			break
		}
		if taker.Side == domain.SideBuy && level.Price > taker.Price {
			break // best ask above the bid
		}
		if taker.Side == domain.SideSell && level.Price < taker.Price {
			break // best bid below the ask
		}

		// FIFO: consume from head of the linked list at this price level
		for taker.Remaining > 0 {
			elem, maker := level.front()
			if maker == nil {
				break
			}

			matchQty := min(taker.Remaining, maker.Remaining)
			taker.Remaining -= matchQty
			level.reduce(maker, matchQty)

			fills = append(fills, domain.Fill{
				Symbol:     ob.Symbol,
				Price:      level.Price, // execute at maker's (resting) price
				Size:       matchQty,
				RestingID:  maker.ID,
				IncomingID: taker.ID,
				Timestamp:  taker.Timestamp,
			})

			if maker.Remaining == 0 {
				level.remove(elem)
				delete(ob.OrderMap, maker.ID)
			}
		}

		// Clean up empty price level
		if level.empty() {
			opposite.dropLevel(level)
		}
	}
	return fills
}

// rest appends an order to the tail of its price level and indexes it.
func (ob *OrderBook) rest(order *domain.Order) {
	level := ob.side(order.Side).levelFor(order.Price)
	elem := level.push(order)
	ob.OrderMap[order.ID] = &orderEntry{
		order:   order,
		element: elem,
		level:   level,
	}
}

// HandleCancel removes up to size shares from a resting order; size ==
// domain.CancelAll removes all of it. It returns the size removed and whether
// the order left the book.
func (ob *OrderBook) HandleCancel(orderID uint64, size int64) (int64, bool, error) {
	if size <= 0 {
		return 0, false, fmt.Errorf("%w: cancel size %d", domain.ErrInvalidOrder, size)
	}
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return 0, false, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, orderID)
	}

	order := entry.order
	if size < order.Remaining {
		entry.level.reduce(order, size)
		return size, false, nil
	}

	removed := order.Remaining
	ob.remove(entry)
	return removed, true, nil
}

// remove unlinks an indexed order and drops its level if that empties it.
func (ob *OrderBook) remove(entry *orderEntry) {
	level := entry.level
	level.remove(entry.element)
	delete(ob.OrderMap, entry.order.ID)

	if level.empty() {
		ob.side(entry.order.Side).dropLevel(level)
	}
}

// Contains reports whether orderID is resting in this book.
func (ob *OrderBook) Contains(orderID uint64) bool {
	_, exists := ob.OrderMap[orderID]
	return exists
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	return len(ob.OrderMap)
}
