package matching

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/orderbook"
)

// route locates a resting order by identifier alone, since cancel and
// replace events carry no symbol.
type route struct {
	symbol string
	side   domain.Side
}

// Engine is the matching engine. It maintains per-symbol order books, the
// global identifier routing table, and event counters. It is not safe for
// concurrent use; the sequencer is its single writer.
type Engine struct {
	books  map[string]*orderbook.OrderBook // symbol -> order book
	routes map[uint64]route                // order id -> (symbol, side) while resting
	stats  domain.Stats
	seq    uint64
}

// NewEngine creates a new matching engine.
func NewEngine() *Engine {
	return &Engine{
		books:  make(map[string]*orderbook.OrderBook),
		routes: make(map[uint64]route),
	}
}

// getOrCreateBook returns the order book for a symbol, creating it if needed.
func (e *Engine) getOrCreateBook(symbol string) *orderbook.OrderBook {
	book, exists := e.books[symbol]
	if !exists {
		book = orderbook.NewOrderBook(symbol)
		e.books[symbol] = book
	}
	return book
}

// Handle applies one event. The returned result is never nil; the error
// reports a rejected or unrouted event, after which the engine is unchanged
// apart from its counters.
func (e *Engine) Handle(ev domain.Event) (*domain.Result, error) {
	e.seq++
	result := &domain.Result{SequenceID: e.seq}

	var err error
	switch ev := ev.(type) {
	case domain.NewOrder:
		result.Kind = domain.EventNew
		e.stats.New++
		err = e.handleNew(ev, result)
	case domain.CancelOrder:
		result.Kind = domain.EventCancel
		e.stats.Cancel++
		err = e.handleCancel(ev, result)
	case domain.ReplaceOrder:
		result.Kind = domain.EventReplace
		e.stats.Replace++
		err = e.handleReplace(ev, result)
	default:
		// Events travel by value; pointers and nil are malformed input.
		err = fmt.Errorf("%w: unhandled event %T", domain.ErrInvalidOrder, ev)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnroutedOrder):
		e.stats.Unrouted++
	default:
		e.stats.Rejected++
	}
	return result, err
}

// handleNew matches a new order and routes whatever rests.
func (e *Engine) handleNew(ev domain.NewOrder, result *domain.Result) error {
	if ev.Symbol == "" || !ev.Side.Valid() || ev.Price <= 0 || ev.Size <= 0 {
		return fmt.Errorf("new %d: %w: symbol %q side %q price %d size %d",
			ev.ID, domain.ErrInvalidOrder, ev.Symbol, ev.Side, ev.Price, ev.Size)
	}
	if _, routed := e.routes[ev.ID]; routed {
		return fmt.Errorf("new %d: %w", ev.ID, domain.ErrDuplicateOrder)
	}
	result.Symbol = ev.Symbol
	return e.place(e.getOrCreateBook(ev.Symbol), ev.ID, ev.Side, ev.Price, ev.Size, ev.Timestamp, result)
}

// place matches an order on book and records its route if anything rests.
func (e *Engine) place(book *orderbook.OrderBook, id uint64, side domain.Side, price, size int64, ts uint64, result *domain.Result) error {
	order := &domain.Order{
		ID:         id,
		Side:       side,
		Price:      price,
		Remaining:  size,
		SequenceID: e.seq,
		Timestamp:  ts,
	}

	fills, err := book.MatchLimit(order)
	if err != nil {
		return fmt.Errorf("new %d: %w", id, err)
	}

	result.Fills = fills
	for _, f := range fills {
		e.stats.Fills++
		e.stats.FilledVolume += uint64(f.Size)
		if book.Contains(f.RestingID) {
			continue
		}
		delete(e.routes, f.RestingID)
	}

	if order.Remaining > 0 {
		result.Rested = order.Remaining
		e.routes[id] = route{symbol: book.Symbol, side: side}
	}
	return nil
}

// handleCancel reduces or removes a resting order.
func (e *Engine) handleCancel(ev domain.CancelOrder, result *domain.Result) error {
	r, routed := e.routes[ev.ID]
	if !routed {
		return fmt.Errorf("cancel %d: %w", ev.ID, domain.ErrUnroutedOrder)
	}
	result.Symbol = r.symbol

	removed, gone, err := e.books[r.symbol].HandleCancel(ev.ID, ev.Size)
	if err != nil {
		return fmt.Errorf("cancel %d: %w", ev.ID, err)
	}
	result.Canceled = removed
	if gone {
		delete(e.routes, ev.ID)
	}
	return nil
}

// handleReplace retires the old order and books the new one on the same
// symbol and side with a fresh arrival sequence.
func (e *Engine) handleReplace(ev domain.ReplaceOrder, result *domain.Result) error {
	r, routed := e.routes[ev.OldID]
	if !routed {
		return fmt.Errorf("replace %d->%d: %w", ev.OldID, ev.NewID, domain.ErrUnroutedOrder)
	}
	if ev.Price <= 0 || ev.Size <= 0 {
		return fmt.Errorf("replace %d->%d: %w: price %d size %d",
			ev.OldID, ev.NewID, domain.ErrInvalidOrder, ev.Price, ev.Size)
	}
	if _, taken := e.routes[ev.NewID]; taken && ev.NewID != ev.OldID {
		return fmt.Errorf("replace %d->%d: %w", ev.OldID, ev.NewID, domain.ErrDuplicateOrder)
	}
	result.Symbol = r.symbol

	book := e.books[r.symbol]
	removed, _, err := book.HandleCancel(ev.OldID, domain.CancelAll)
	if err != nil {
		// The route said the order rests in this book.
		panic(fmt.Sprintf("matching: route for %d points at %s but book: %v", ev.OldID, r.symbol, err))
	}
	delete(e.routes, ev.OldID)
	result.Canceled = removed

	return e.place(book, ev.NewID, r.side, ev.Price, ev.Size, ev.Timestamp, result)
}

// Stats returns the event counters.
func (e *Engine) Stats() domain.Stats {
	s := e.stats
	s.Symbols = len(e.books)
	s.Resting = len(e.routes)
	return s
}

// GetOrderBook returns the order book for a symbol (nil if it doesn't exist).
// Callers must treat it as read-only.
func (e *Engine) GetOrderBook(symbol string) *orderbook.OrderBook {
	return e.books[symbol]
}

// Symbols returns the symbols with a book, sorted.
func (e *Engine) Symbols() []string {
	symbols := make([]string, 0, len(e.books))
	for symbol := range e.books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Lookup returns the symbol and side an identifier routes to.
func (e *Engine) Lookup(orderID uint64) (string, domain.Side, bool) {
	r, ok := e.routes[orderID]
	return r.symbol, r.side, ok
}

// GetL2Snapshot returns an L2 snapshot for a symbol.
func (e *Engine) GetL2Snapshot(symbol string, depth int) *domain.L2OrderBook {
	book := e.books[symbol]
	if book == nil {
		return &domain.L2OrderBook{
			Symbol: symbol,
			Bids:   []domain.PriceLevel{},
			Asks:   []domain.PriceLevel{},
		}
	}
	return book.GetL2Snapshot(depth)
}

// CheckInvariants verifies every book and that the routing table and the
// book indices describe the same set of resting orders.
func (e *Engine) CheckInvariants() error {
	indexed := 0
	for symbol, book := range e.books {
		if err := book.CheckInvariants(); err != nil {
			return fmt.Errorf("book %s: %w", symbol, err)
		}
		indexed += book.Len()
	}
	if indexed != len(e.routes) {
		return fmt.Errorf("%w: %d routes but %d resting orders", orderbook.ErrInconsistentBook, len(e.routes), indexed)
	}
	for id, r := range e.routes {
		book := e.books[r.symbol]
		if book == nil {
			return fmt.Errorf("%w: order %d routed to missing book %s", orderbook.ErrInconsistentBook, id, r.symbol)
		}
		order, ok := book.Order(id)
		if !ok || order.Side != r.side {
			return fmt.Errorf("%w: order %d routed to %s/%s but not resting there", orderbook.ErrInconsistentBook, id, r.symbol, r.side)
		}
	}
	return nil
}
