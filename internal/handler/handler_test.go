package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/marketdata"
	"github.com/nathanyu/order-arbiter/internal/matching"
	"github.com/nathanyu/order-arbiter/internal/sequencer"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	seq := sequencer.NewSequencer(matching.NewEngine(), 16)
	candles := marketdata.NewCandles(0)
	events := []domain.Event{
		domain.NewOrder{ID: 1, Symbol: "AAPL", Side: domain.SideSell, Price: 101, Size: 50},
		domain.NewOrder{ID: 2, Symbol: "AAPL", Side: domain.SideSell, Price: 102, Size: 30},
		domain.NewOrder{ID: 3, Symbol: "AAPL", Side: domain.SideBuy, Price: 99, Size: 10},
		domain.NewOrder{ID: 4, Symbol: "AAPL", Side: domain.SideBuy, Price: 101, Size: 20, Timestamp: 7},
		domain.NewOrder{ID: 5, Symbol: "MSFT", Side: domain.SideBuy, Price: 300, Size: 1},
	}
	for _, ev := range events {
		result, err := seq.Handle(ev)
		require.NoError(t, err)
		require.NoError(t, candles.Publish(context.Background(), result.Fills))
	}

	r := gin.New()
	NewHandler(seq, candles).RegisterRoutes(r)
	return r
}

func get(t *testing.T, r *gin.Engine, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	r := setupRouter(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, get(t, r, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetStats(t *testing.T) {
	r := setupRouter(t)
	var body struct {
		Stats       domain.Stats `json:"stats"`
		InboundSeq  uint64       `json:"inbound_seq"`
		OutboundSeq uint64       `json:"outbound_seq"`
	}
	require.Equal(t, http.StatusOK, get(t, r, "/v1/stats", &body))
	assert.Equal(t, uint64(5), body.Stats.New)
	assert.Equal(t, uint64(1), body.Stats.Fills)
	assert.Equal(t, 2, body.Stats.Symbols)
	assert.Equal(t, 4, body.Stats.Resting)
	assert.Equal(t, uint64(5), body.InboundSeq)
	assert.Equal(t, uint64(1), body.OutboundSeq)
}

func TestListBooks(t *testing.T) {
	r := setupRouter(t)
	var body struct {
		Symbols []string `json:"symbols"`
	}
	require.Equal(t, http.StatusOK, get(t, r, "/v1/books", &body))
	assert.Equal(t, []string{"AAPL", "MSFT"}, body.Symbols)
}

func TestGetTopOfBook(t *testing.T) {
	r := setupRouter(t)
	var top domain.TopOfBook
	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/AAPL/top", &top))
	require.NotNil(t, top.Bid)
	require.NotNil(t, top.Ask)
	assert.Equal(t, domain.Quote{Price: 99, Quantity: 10}, *top.Bid)
	assert.Equal(t, domain.Quote{Price: 101, Quantity: 30}, *top.Ask)

	assert.Equal(t, http.StatusNotFound, get(t, r, "/v1/books/NOPE/top", nil))
}

func TestGetL2OrderBook(t *testing.T) {
	r := setupRouter(t)
	var book domain.L2OrderBook
	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/AAPL/L2?depth=1", &book))
	assert.Equal(t, []domain.PriceLevel{{Price: 99, Quantity: 10, Orders: 1}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Quantity: 30, Orders: 1}}, book.Asks)

	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/AAPL/L2", &book))
	assert.Len(t, book.Asks, 2)

	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/NOPE/L2", &book))
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/books/AAPL/L2?depth=x", nil))
}

func TestGetOrders(t *testing.T) {
	r := setupRouter(t)
	var body struct {
		Orders []domain.Order `json:"orders"`
	}
	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/AAPL/orders?side=sell", &body))
	require.Len(t, body.Orders, 2)
	assert.Equal(t, uint64(1), body.Orders[0].ID)
	assert.Equal(t, int64(30), body.Orders[0].Remaining)
	assert.Equal(t, uint64(2), body.Orders[1].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/books/AAPL/orders?side=up", nil))
}

func TestGetOrder(t *testing.T) {
	r := setupRouter(t)
	var body struct {
		Symbol string       `json:"symbol"`
		Order  domain.Order `json:"order"`
	}
	require.Equal(t, http.StatusOK, get(t, r, "/v1/orders/5", &body))
	assert.Equal(t, "MSFT", body.Symbol)
	assert.Equal(t, domain.SideBuy, body.Order.Side)

	// Fully filled incoming order never rested.
	assert.Equal(t, http.StatusNotFound, get(t, r, "/v1/orders/4", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/orders/abc", nil))
}

func TestGetCandles(t *testing.T) {
	r := setupRouter(t)
	var candles []domain.Candlestick
	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/AAPL/candles", &candles))
	require.Len(t, candles, 1)
	assert.Equal(t, int64(101), candles[0].Close)
	assert.Equal(t, int64(20), candles[0].Volume)

	require.Equal(t, http.StatusOK, get(t, r, "/v1/books/MSFT/candles", &candles))
	assert.Empty(t, candles)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/books/AAPL/candles?count=-1", nil))
}
