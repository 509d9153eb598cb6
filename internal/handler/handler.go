package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/marketdata"
	"github.com/nathanyu/order-arbiter/internal/matching"
)

const (
	defaultDepth       = 10
	defaultCandleCount = 20
)

// EngineView gives read access to the engine under the writer's lock.
// sequencer.Sequencer implements it.
type EngineView interface {
	View(fn func(*matching.Engine))
	Stats() domain.Stats
	CurrentInboundSeq() uint64
	CurrentOutboundSeq() uint64
}

// Handler holds the HTTP handler dependencies.
type Handler struct {
	view    EngineView
	candles *marketdata.Candles
}

// NewHandler creates a new Handler. candles may be nil.
func NewHandler(view EngineView, candles *marketdata.Candles) *Handler {
	return &Handler{
		view:    view,
		candles: candles,
	}
}

// RegisterRoutes sets up the Gin routes. Every route is read-only.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.GET("/stats", h.GetStats)
		v1.GET("/books", h.ListBooks)
		v1.GET("/books/:symbol/top", h.GetTopOfBook)
		v1.GET("/books/:symbol/L2", h.GetL2OrderBook)
		v1.GET("/books/:symbol/orders", h.GetOrders)
		v1.GET("/books/:symbol/candles", h.GetCandles)
		v1.GET("/orders/:id", h.GetOrder)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "order-arbiter",
	})
}

// GetStats handles GET /v1/stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":        h.view.Stats(),
		"inbound_seq":  h.view.CurrentInboundSeq(),
		"outbound_seq": h.view.CurrentOutboundSeq(),
	})
}

// ListBooks handles GET /v1/books.
func (h *Handler) ListBooks(c *gin.Context) {
	var symbols []string
	h.view.View(func(e *matching.Engine) {
		symbols = e.Symbols()
	})
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

// GetTopOfBook handles GET /v1/books/:symbol/top.
func (h *Handler) GetTopOfBook(c *gin.Context) {
	symbol := c.Param("symbol")

	var top domain.TopOfBook
	found := false
	h.view.View(func(e *matching.Engine) {
		if book := e.GetOrderBook(symbol); book != nil {
			top, found = book.Top(), true
		}
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, top)
}

// GetL2OrderBook handles GET /v1/books/:symbol/L2?depth=N.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	symbol := c.Param("symbol")

	depth, err := queryInt(c, "depth", defaultDepth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
		return
	}

	var snapshot *domain.L2OrderBook
	h.view.View(func(e *matching.Engine) {
		snapshot = e.GetL2Snapshot(symbol, depth)
	})
	c.JSON(http.StatusOK, snapshot)
}

// GetOrders handles GET /v1/books/:symbol/orders?side=buy|sell, listing
// resting orders in priority order.
func (h *Handler) GetOrders(c *gin.Context) {
	symbol := c.Param("symbol")
	side := domain.Side(c.DefaultQuery("side", string(domain.SideBuy)))
	if !side.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be 'buy' or 'sell'"})
		return
	}

	orders := []domain.Order{}
	h.view.View(func(e *matching.Engine) {
		if book := e.GetOrderBook(symbol); book != nil {
			orders = book.Orders(side)
		}
	})
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "side": side, "orders": orders})
}

// GetOrder handles GET /v1/orders/:id, resolving the symbol through the
// routing table.
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var (
		symbol string
		order  domain.Order
		found  bool
	)
	h.view.View(func(e *matching.Engine) {
		var routed bool
		symbol, _, routed = e.Lookup(id)
		if routed {
			order, found = e.GetOrderBook(symbol).Order(id)
		}
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not resting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "order": order})
}

// GetCandles handles GET /v1/books/:symbol/candles?count=N.
func (h *Handler) GetCandles(c *gin.Context) {
	if h.candles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "market data disabled"})
		return
	}
	count, err := queryInt(c, "count", defaultCandleCount)
	if err != nil || count < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
		return
	}

	candles := h.candles.GetCandles(c.Param("symbol"), count)
	if candles == nil {
		candles = []domain.Candlestick{}
	}
	c.JSON(http.StatusOK, candles)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
