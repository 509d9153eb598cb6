package domain

import "errors"

// EventKind names the three order-lifecycle events.
type EventKind string

const (
	EventNew     EventKind = "new"
	EventCancel  EventKind = "cancel"
	EventReplace EventKind = "replace"
)

// Event is one order-lifecycle event from the feed. The set is closed:
// only NewOrder, CancelOrder and ReplaceOrder implement it. Events are
// passed by value; the engine rejects pointers as invalid.
type Event interface {
	Kind() EventKind
	isEvent()
}

// NewOrder adds a limit order to a symbol's book.
type NewOrder struct {
	Timestamp uint64 `json:"timestamp"`
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
}

// CancelOrder removes Size shares from a resting order. Size == CancelAll
// removes the order entirely.
type CancelOrder struct {
	Timestamp uint64 `json:"timestamp"`
	ID        uint64 `json:"id"`
	Size      int64  `json:"size"`
}

// ReplaceOrder retires OldID and books NewID on the same symbol and side.
type ReplaceOrder struct {
	Timestamp uint64 `json:"timestamp"`
	OldID     uint64 `json:"old_id"`
	NewID     uint64 `json:"new_id"`
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
}

func (NewOrder) Kind() EventKind     { return EventNew }
func (CancelOrder) Kind() EventKind  { return EventCancel }
func (ReplaceOrder) Kind() EventKind { return EventReplace }

func (NewOrder) isEvent()     {}
func (CancelOrder) isEvent()  {}
func (ReplaceOrder) isEvent() {}

var (
	// ErrInvalidOrder marks a malformed event: non-positive price or size,
	// or an unknown side.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrDuplicateOrder marks a new order whose identifier is already resting.
	ErrDuplicateOrder = errors.New("duplicate order id")
	// ErrUnknownOrder is returned by a book for an identifier it does not hold.
	ErrUnknownOrder = errors.New("unknown order id")
	// ErrUnroutedOrder is returned by the engine when a cancel or replace
	// names an identifier that has no resting order anywhere.
	ErrUnroutedOrder = errors.New("unrouted order id")
)
