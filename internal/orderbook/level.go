package orderbook

import (
	"container/list"

	"github.com/google/btree"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// btreeDegree is the fan-out of the per-side price trees.
const btreeDegree = 32

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO).
type bookLevel struct {
	Price       int64
	TotalVolume int64
	Orders      *list.List // of *domain.Order
}

func newBookLevel(price int64) *bookLevel {
	return &bookLevel{
		Price:  price,
		Orders: list.New(),
	}
}

// push appends an order at the tail of the level.
func (l *bookLevel) push(order *domain.Order) *list.Element {
	l.TotalVolume += order.Remaining
	return l.Orders.PushBack(order)
}

// front returns the oldest order at this level, or nil.
func (l *bookLevel) front() (*list.Element, *domain.Order) {
	elem := l.Orders.Front()
	if elem == nil {
		return nil, nil
	}
	return elem, elem.Value.(*domain.Order)
}

// reduce takes qty off an order that stays in the level.
func (l *bookLevel) reduce(order *domain.Order, qty int64) {
	order.Remaining -= qty
	l.TotalVolume -= qty
}

// remove unlinks an order and drops whatever it still had from the volume.
func (l *bookLevel) remove(elem *list.Element) {
	order := l.Orders.Remove(elem).(*domain.Order)
	l.TotalVolume -= order.Remaining
}

func (l *bookLevel) empty() bool {
	return l.Orders.Len() == 0
}

// Book represents one side (buy or sell) of an order book.
type Book struct {
	Side     domain.Side
	LimitMap map[int64]*bookLevel // price -> level

	// levels orders the same levels best first: highest price for bids,
	// lowest price for asks.
	levels *btree.BTreeG[*bookLevel]
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	less := func(a, b *bookLevel) bool { return a.Price < b.Price }
	if side == domain.SideBuy {
		less = func(a, b *bookLevel) bool { return a.Price > b.Price }
	}
	return &Book{
		Side:     side,
		LimitMap: make(map[int64]*bookLevel),
		levels:   btree.NewG(btreeDegree, less),
	}
}

// best returns the best level on this side, or nil if the side is empty.
func (b *Book) best() *bookLevel {
	level, ok := b.levels.Min()
	if !ok {
		return nil
	}
	return level
}

// BestPrice returns the best price on this side, or 0 if empty.
func (b *Book) BestPrice() int64 {
	if level := b.best(); level != nil {
		return level.Price
	}
	return 0
}

// HasOrders returns whether this side has any resting orders.
func (b *Book) HasOrders() bool {
	return b.levels.Len() > 0
}

// Len returns the number of price levels on this side.
func (b *Book) Len() int {
	return b.levels.Len()
}

// levelFor returns the level at price, creating it if needed.
func (b *Book) levelFor(price int64) *bookLevel {
	level, exists := b.LimitMap[price]
	if !exists {
		level = newBookLevel(price)
		b.LimitMap[price] = level
		b.levels.ReplaceOrInsert(level)
	}
	return level
}

// dropLevel removes an emptied level from both the map and the tree.
func (b *Book) dropLevel(level *bookLevel) {
	delete(b.LimitMap, level.Price)
	b.levels.Delete(level)
}

// ascend visits levels best first until fn returns false.
func (b *Book) ascend(fn func(*bookLevel) bool) {
	b.levels.Ascend(func(level *bookLevel) bool {
		return fn(level)
	})
}
