package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/marketdata"
	"github.com/nathanyu/order-arbiter/internal/matching"
	"github.com/nathanyu/order-arbiter/internal/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id uint64, side domain.Side, price, size int64) domain.NewOrder {
	return domain.NewOrder{ID: id, Symbol: "AAPL", Side: side, Price: price, Size: size}
}

func TestSequencer_StampsSequenceIDs(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 100)

	for i := range 3 {
		_, err := seq.Handle(newOrder(uint64(i+1), domain.SideSell, 10010, 100))
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(3), seq.CurrentInboundSeq())
	assert.Equal(t, uint64(0), seq.CurrentOutboundSeq())
}

func TestSequencer_MonotonicFillIDs(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 100)

	_, err := seq.Handle(newOrder(1, domain.SideSell, 10010, 50))
	require.NoError(t, err)
	_, err = seq.Handle(newOrder(2, domain.SideSell, 10011, 50))
	require.NoError(t, err)

	result, err := seq.Handle(newOrder(3, domain.SideBuy, 10011, 100))
	require.NoError(t, err)
	require.Len(t, result.Fills, 2)
	assert.Equal(t, uint64(1), result.Fills[0].SequenceID)
	assert.Equal(t, uint64(2), result.Fills[1].SequenceID)

	select {
	case out := <-seq.ResultOut:
		assert.Same(t, result, out)
	default:
		t.Fatal("expected result with fills on ResultOut")
	}
}

func TestSequencer_NoFillsNotForwarded(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 100)

	_, err := seq.Handle(newOrder(1, domain.SideBuy, 100, 10))
	require.NoError(t, err)

	assert.Empty(t, seq.ResultOut)
}

func TestSequencer_DropsWhenOutputFull(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 1)

	for i := uint64(0); i < 3; i++ {
		_, err := seq.Handle(newOrder(10+2*i, domain.SideSell, 100, 1))
		require.NoError(t, err)
		result, err := seq.Handle(newOrder(11+2*i, domain.SideBuy, 100, 1))
		require.NoError(t, err)
		require.Len(t, result.Fills, 1)
	}

	assert.Len(t, seq.ResultOut, 1)
	assert.Equal(t, uint64(3), seq.CurrentOutboundSeq())
}

func TestSequencer_ErrorsCounted(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 10)

	_, err := seq.Handle(domain.CancelOrder{ID: 99, Size: 1})
	assert.ErrorIs(t, err, domain.ErrUnroutedOrder)
	_, err = seq.Handle(newOrder(1, domain.SideBuy, 0, 10))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	stats := seq.Stats()
	assert.Equal(t, uint64(1), stats.Unrouted)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(2), seq.CurrentInboundSeq())
}

func TestSequencer_RunProcessesSubmitted(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 100, WithInvariantChecks(true))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		seq.Run(ctx)
		close(done)
	}()

	require.NoError(t, seq.Submit(ctx, newOrder(1, domain.SideSell, 100, 10)))
	require.NoError(t, seq.Submit(ctx, newOrder(2, domain.SideBuy, 100, 4)))
	require.NoError(t, seq.Submit(ctx, domain.CancelOrder{ID: 1, Size: 2}))
	seq.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	var results []*domain.Result
	for r := range seq.ResultOut {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	assert.Equal(t, int64(4), results[0].Fills[0].Size)

	seq.View(func(e *matching.Engine) {
		order, ok := e.GetOrderBook("AAPL").Order(1)
		require.True(t, ok)
		assert.Equal(t, int64(4), order.Remaining)
	})
	assert.Equal(t, uint64(3), seq.CurrentInboundSeq())
}

func TestSequencer_SubmitAfterClose(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 1)
	seq.Close()
	seq.Close()

	err := seq.Submit(context.Background(), newOrder(1, domain.SideBuy, 1, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSequencer_SubmitHonorsContext(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 1)
	require.NoError(t, seq.Submit(context.Background(), newOrder(1, domain.SideBuy, 1, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := seq.Submit(ctx, newOrder(2, domain.SideBuy, 1, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSequencer_RunStopsOnContext(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		seq.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	// Synchronous callers can still use the sequencer.
	_, err := seq.Handle(newOrder(1, domain.SideBuy, 1, 1))
	assert.NoError(t, err)
}

func TestSequencer_BlockingOutputDeliversEveryFill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seq := NewSequencer(matching.NewEngine(), 4, WithBlockingOutput(ctx))
	candles := marketdata.NewCandles(time.Minute)

	runDone := make(chan struct{})
	go func() {
		seq.Run(ctx)
		close(runDone)
	}()
	pubDone := make(chan struct{})
	go func() {
		publisher.Run(ctx, seq.ResultOut, candles)
		close(pubDone)
	}()

	const pairs = 2000
	for i := uint64(0); i < pairs; i++ {
		_, err := seq.Handle(newOrder(2*i+1, domain.SideSell, 100, 3))
		require.NoError(t, err)
		_, err = seq.Handle(newOrder(2*i+2, domain.SideBuy, 100, 3))
		require.NoError(t, err)
	}
	seq.Close()
	<-runDone
	<-pubDone
	require.NoError(t, ctx.Err())

	var volume, fills int64
	for _, c := range candles.GetCandles("AAPL", 0) {
		volume += c.Volume
		fills += int64(c.Fills)
	}
	stats := seq.Stats()
	assert.Equal(t, uint64(pairs), stats.Fills)
	assert.Equal(t, int64(stats.FilledVolume), volume)
	assert.Equal(t, int64(stats.Fills), fills)
}

func TestSequencer_SubmitRacingClose(t *testing.T) {
	for range 50 {
		seq := NewSequencer(matching.NewEngine(), 1)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 8*20)
		for g := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 20 {
					errs <- seq.Submit(ctx, newOrder(uint64(g*100+i+1), domain.SideBuy, 100, 1))
				}
			}()
		}
		go seq.Run(ctx)
		seq.Close()
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Fatalf("unexpected submit error: %v", err)
			}
		}
		assert.ErrorIs(t, seq.Submit(ctx, newOrder(9999, domain.SideBuy, 1, 1)), ErrClosed)
	}
}

func TestSequencer_CloseUnblocksSubmit(t *testing.T) {
	seq := NewSequencer(matching.NewEngine(), 1)
	require.NoError(t, seq.Submit(context.Background(), newOrder(1, domain.SideBuy, 1, 1)))

	errc := make(chan error, 1)
	go func() {
		errc <- seq.Submit(context.Background(), newOrder(2, domain.SideBuy, 1, 1))
	}()
	time.Sleep(10 * time.Millisecond)
	seq.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Submit still blocked after Close")
	}
}
