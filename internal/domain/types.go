package domain

import "math"

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// CancelAll is the cancel size that removes whatever remains of an order.
const CancelAll int64 = math.MaxInt64

// Order is a limit order as it rests in a book.
// Prices are integer exchange ticks; sizes are shares.
type Order struct {
	ID        uint64 `json:"id"`
	Side      Side   `json:"side"`
	Price     int64  `json:"price"`
	Remaining int64  `json:"remaining"`

	// SequenceID is the arrival sequence assigned by the engine. It only
	// breaks ties within a price level and never depends on wall-clock time.
	SequenceID uint64 `json:"sequence_id"`
	Timestamp  uint64 `json:"timestamp"`
}

// Fill records size matched between an incoming order and a resting order.
// Price is always the resting order's price.
type Fill struct {
	Symbol     string `json:"symbol"`
	Price      int64  `json:"price"`
	Size       int64  `json:"size"`
	RestingID  uint64 `json:"resting_id"`
	IncomingID uint64 `json:"incoming_id"`
	Timestamp  uint64 `json:"timestamp"`
	SequenceID uint64 `json:"sequence_id"`
}

// Result is what the engine reports back for one handled event.
type Result struct {
	Kind   EventKind `json:"kind"`
	Symbol string    `json:"symbol,omitempty"`
	Fills  []Fill    `json:"fills,omitempty"`
	// Rested is the size of the incoming order left resting in the book.
	Rested int64 `json:"rested"`
	// Canceled is the size removed from a resting order by a cancel or by the
	// cancel half of a replace.
	Canceled   int64  `json:"canceled"`
	SequenceID uint64 `json:"sequence_id"`
}

// L2OrderBook represents an aggregated L2 order book snapshot.
type L2OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// PriceLevel represents an aggregated price level in the L2 order book.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Quote is the best price on one side of a book.
type Quote struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// TopOfBook holds the best bid and ask; a nil side is empty.
type TopOfBook struct {
	Symbol string `json:"symbol"`
	Bid    *Quote `json:"bid"`
	Ask    *Quote `json:"ask"`
}

// Candlestick represents OHLCV fill data for one interval of feed time.
type Candlestick struct {
	Symbol string `json:"symbol"`
	Open   int64  `json:"open"`
	High   int64  `json:"high"`
	Low    int64  `json:"low"`
	Close  int64  `json:"close"`
	Volume int64  `json:"volume"`
	Fills  int    `json:"fills"`
	// Start is the interval start in feed nanoseconds since midnight.
	Start    uint64 `json:"start"`
	Interval string `json:"interval"` // e.g. "1m"
}

// Stats are the engine's event counters.
type Stats struct {
	New          uint64 `json:"new"`
	Cancel       uint64 `json:"cancel"`
	Replace      uint64 `json:"replace"`
	Rejected     uint64 `json:"rejected"`
	Unrouted     uint64 `json:"unrouted"`
	Fills        uint64 `json:"fills"`
	FilledVolume uint64 `json:"filled_volume"`
	Symbols      int    `json:"symbols"`
	Resting      int    `json:"resting"`
}

// Total returns the number of events received.
func (s Stats) Total() uint64 {
	return s.New + s.Cancel + s.Replace
}
