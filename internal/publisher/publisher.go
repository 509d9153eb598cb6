// Package publisher ships fills produced by the sequencer to downstream
// sinks.
package publisher

import (
	"context"
	"errors"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

// Publisher delivers fills. Implementations must be safe to call from the
// single Run goroutine; they need not be safe for concurrent use.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, fills []domain.Fill) error
	Close() error
}

// Multi fans out to every publisher. A failing sink does not stop the others.
type Multi []Publisher

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, fills []domain.Fill) error {
	var errs []error
	for _, p := range m {
		err := p.Publish(ctx, fills)
		status := "ok"
		if err != nil {
			status = "error"
			errs = append(errs, err)
		}
		telemetry.PublishedTotal.WithLabelValues(p.Name(), status).Add(float64(len(fills)))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run publishes every result from in until in is closed or ctx is done.
// Publish errors are logged and do not stop the loop.
func Run(ctx context.Context, in <-chan *domain.Result, pub Publisher) {
	log := telemetry.Component("publisher").With("sink", pub.Name())
	log.Info("started")
	for {
		select {
		case result, ok := <-in:
			if !ok {
				log.Info("stopped")
				return
			}
			if len(result.Fills) == 0 {
				continue
			}
			if err := pub.Publish(ctx, result.Fills); err != nil {
				log.Warn("publish failed", "symbol", result.Symbol, "fills", len(result.Fills), "error", err)
			}
		case <-ctx.Done():
			log.Info("stopped", "reason", ctx.Err())
			return
		}
	}
}
