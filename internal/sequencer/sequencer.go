package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/matching"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("sequencer closed")

// Sequencer is the single writer in front of the matching engine. It stamps
// inbound and outbound sequence numbers, applies events in arrival order,
// and forwards results that carry fills on ResultOut.
//
// Events reach the engine either through Handle (synchronous) or through
// Submit and the Run loop; both paths serialize on the same lock, so readers
// using View never see a half-applied event.
type Sequencer struct {
	mu     sync.RWMutex
	engine *matching.Engine

	inboundSeq  atomic.Uint64
	outboundSeq atomic.Uint64

	// sendMu orders Submit against Close so orderIn is never sent on
	// after it is closed.
	sendMu    sync.RWMutex
	orderIn   chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	closed    bool

	// ResultOut carries results with at least one fill, for downstream
	// publishers. Run closes it once Close has drained the inbound queue.
	ResultOut chan *domain.Result

	// outputCtx, when set, makes fill delivery on ResultOut wait for room
	// instead of dropping.
	outputCtx       context.Context
	checkInvariants bool
	log             *slog.Logger
	events          map[domain.EventKind]prometheus.Counter
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithInvariantChecks verifies every book after each event and panics on a
// violation.
func WithInvariantChecks(enabled bool) Option {
	return func(s *Sequencer) { s.checkInvariants = enabled }
}

// WithBlockingOutput makes Handle wait for room on ResultOut rather than
// drop the result, until ctx is done. Use it for replays where every fill
// must reach the publishers; live feeds keep the default drop-on-full.
func WithBlockingOutput(ctx context.Context) Option {
	return func(s *Sequencer) { s.outputCtx = ctx }
}

// NewSequencer creates a new sequencer wired to the given matching engine.
func NewSequencer(engine *matching.Engine, bufferSize int, opts ...Option) *Sequencer {
	s := &Sequencer{
		engine:    engine,
		orderIn:   make(chan domain.Event, bufferSize),
		done:      make(chan struct{}),
		ResultOut: make(chan *domain.Result, bufferSize),
		log:       telemetry.Component("sequencer"),
		events:    make(map[domain.EventKind]prometheus.Counter),
	}
	for _, kind := range []domain.EventKind{domain.EventNew, domain.EventCancel, domain.EventReplace} {
		s.events[kind] = telemetry.EventsTotal.WithLabelValues(string(kind))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues an event for the Run loop. It returns ErrClosed once Close
// has been called, including while waiting for room in the queue.
func (s *Sequencer) Submit(ctx context.Context, ev domain.Event) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.orderIn <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Run drains what is queued, closes ResultOut
// and returns. Handle must not be called after Close.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() {
		// Wake blocked Submits before waiting for them to leave.
		close(s.done)
		s.sendMu.Lock()
		s.closed = true
		close(s.orderIn)
		s.sendMu.Unlock()
	})
}

// Run is the application loop: single writer consuming queued events until
// Close or ctx is done.
func (s *Sequencer) Run(ctx context.Context) {
	s.log.Info("started")
	for {
		select {
		case ev, ok := <-s.orderIn:
			if !ok {
				close(s.ResultOut)
				s.log.Info("stopped", "inbound_seq", s.CurrentInboundSeq())
				return
			}
			s.Handle(ev)
		case <-ctx.Done():
			s.log.Info("stopped", "reason", ctx.Err(), "inbound_seq", s.CurrentInboundSeq())
			return
		}
	}
}

// Handle applies one event synchronously. Rejected and unrouted events are
// logged and counted; the error is returned for callers that care.
func (s *Sequencer) Handle(ev domain.Event) (*domain.Result, error) {
	s.mu.Lock()
	start := time.Now()
	seq := s.inboundSeq.Add(1)
	result, err := s.engine.Handle(ev)
	telemetry.HandleDuration.Observe(time.Since(start).Seconds())

	// Stamp outbound sequence IDs on fills
	for i := range result.Fills {
		result.Fills[i].SequenceID = s.outboundSeq.Add(1)
	}

	if s.checkInvariants {
		if ierr := s.engine.CheckInvariants(); ierr != nil {
			s.mu.Unlock()
			s.log.Error("invariant violated", "seq", seq, "event", fmt.Sprintf("%+v", ev), "error", ierr)
			panic(ierr)
		}
	}
	resting := s.engine.Stats().Resting
	s.mu.Unlock()

	s.record(result, err, resting)

	if len(result.Fills) > 0 {
		s.forward(seq, result)
	}
	return result, err
}

// forward sends result downstream. Without blocking output a full channel
// drops it; with it, only a done output context does.
func (s *Sequencer) forward(seq uint64, result *domain.Result) {
	if s.outputCtx != nil {
		select {
		case s.ResultOut <- result:
			return
		case <-s.outputCtx.Done():
		}
	} else {
		select {
		case s.ResultOut <- result:
			return
		default:
		}
	}
	telemetry.SequencerDropped.Inc()
	s.log.Warn("result output channel full, dropping result", "seq", seq, "fills", len(result.Fills))
}

func (s *Sequencer) record(result *domain.Result, err error, resting int) {
	kind := string(result.Kind)
	if c, ok := s.events[result.Kind]; ok {
		c.Inc()
	} else {
		kind = "unknown"
	}
	telemetry.SequencerInboundSeq.Set(float64(s.inboundSeq.Load()))
	telemetry.RestingOrders.Set(float64(resting))

	if err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, domain.ErrUnroutedOrder):
			reason = "unrouted"
		case errors.Is(err, domain.ErrDuplicateOrder):
			reason = "duplicate"
		}
		telemetry.EventsFailedTotal.WithLabelValues(kind, reason).Inc()
		s.log.Debug("event not applied", "kind", kind, "reason", reason, "error", err)
		return
	}

	if n := len(result.Fills); n > 0 {
		var volume int64
		for _, f := range result.Fills {
			volume += f.Size
		}
		telemetry.FillsTotal.WithLabelValues(result.Symbol).Add(float64(n))
		telemetry.FilledVolume.WithLabelValues(result.Symbol).Add(float64(volume))
		telemetry.SequencerOutboundSeq.Set(float64(s.outboundSeq.Load()))
	}
}

// View runs fn with read access to the engine. fn must not keep references
// to books beyond its return.
func (s *Sequencer) View(fn func(*matching.Engine)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.engine)
}

// Stats returns the engine counters.
func (s *Sequencer) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Stats()
}

// CurrentInboundSeq returns the current inbound sequence number.
func (s *Sequencer) CurrentInboundSeq() uint64 {
	return s.inboundSeq.Load()
}

// CurrentOutboundSeq returns the current outbound sequence number.
func (s *Sequencer) CurrentOutboundSeq() uint64 {
	return s.outboundSeq.Load()
}
