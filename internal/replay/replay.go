// Package replay drives a recorded feed through the matching engine in two
// timed stages: a parse-only pass that counts events, then a matching pass
// over the same number of events.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nathanyu/order-arbiter/internal/domain"
	"github.com/nathanyu/order-arbiter/internal/itch"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

// ctxCheckEvery is how many events pass between cancellation checks.
const ctxCheckEvery = 1 << 12

// Source yields events until io.EOF.
type Source interface {
	Next() (domain.Event, error)
	Close() error
}

// Opener opens a fresh Source positioned at the start of the feed. Replay
// calls it once per stage.
type Opener func() (Source, error)

// Handler applies events. Both matching.Engine and sequencer.Sequencer
// satisfy it.
type Handler interface {
	Handle(domain.Event) (*domain.Result, error)
	Stats() domain.Stats
}

type readerSource struct {
	*itch.Reader
	closer io.Closer
}

func (s *readerSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *readerSource) FeedStats() itch.ReaderStats {
	return s.Reader.Stats()
}

// NewSource decodes ITCH from r. Closing the source closes r if it is an
// io.Closer.
func NewSource(r io.Reader) Source {
	src := &readerSource{Reader: itch.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// OpenFile returns an Opener for an ITCH file on disk.
func OpenFile(path string) Opener {
	return func() (Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open feed: %w", err)
		}
		return NewSource(f), nil
	}
}

// Report is the outcome of one replay.
type Report struct {
	RunID         string           `json:"run_id"`
	Max           int              `json:"max"`
	Parsed        int              `json:"parsed"`
	ParseDuration time.Duration    `json:"parse_duration"`
	Matched       int              `json:"matched"`
	MatchDuration time.Duration    `json:"match_duration"`
	Feed          itch.ReaderStats `json:"feed"`
	Stats         domain.Stats     `json:"stats"`
}

// Replay parses up to max events from the feed (all of them if max <= 0),
// then feeds the same number of events to h. Events the engine rejects are
// counted in its stats and do not stop the run; a feed error does.
func Replay(ctx context.Context, open Opener, h Handler, max int) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Max: max}
	log := telemetry.Component("replay").With("run_id", report.RunID)

	ctx, span := telemetry.StartSpan(ctx, "replay")
	defer span.End()
	span.SetAttributes(attribute.String("replay.run_id", report.RunID), attribute.Int("replay.max", max))

	log.Info("parse stage starting", "max", max)
	parsed, parseDur, err := parseStage(ctx, open, max)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	report.Parsed, report.ParseDuration = parsed, parseDur
	log.Info("parse stage done", "events", parsed, "duration", parseDur)

	matched, matchDur, feed, err := matchStage(ctx, open, h, parsed)
	report.Matched, report.MatchDuration, report.Feed = matched, matchDur, feed
	report.Stats = h.Stats()
	telemetry.FeedMessagesSkipped.WithLabelValues("unhandled_type").Add(float64(feed.Skipped))
	telemetry.FeedMessagesSkipped.WithLabelValues("malformed").Add(float64(feed.Malformed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	log.Info("match stage done", "events", matched, "duration", matchDur, "fills", report.Stats.Fills)

	span.SetAttributes(
		attribute.Int("replay.parsed", parsed),
		attribute.Int("replay.matched", matched),
		attribute.Int64("replay.fills", int64(report.Stats.Fills)),
	)
	return report, nil
}

func parseStage(ctx context.Context, open Opener, max int) (int, time.Duration, error) {
	_, span := telemetry.StartSpan(ctx, "replay.parse")
	defer span.End()

	src, err := open()
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()

	start := time.Now()
	n := 0
	for max <= 0 || n < max {
		if _, err := src.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return n, time.Since(start), fmt.Errorf("parse stage at event %d: %w", n, err)
		}
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, time.Since(start), err
			}
		}
	}
	return n, time.Since(start), nil
}

func matchStage(ctx context.Context, open Opener, h Handler, count int) (int, time.Duration, itch.ReaderStats, error) {
	_, span := telemetry.StartSpan(ctx, "replay.match")
	defer span.End()

	var feed itch.ReaderStats
	src, err := open()
	if err != nil {
		return 0, 0, feed, err
	}
	defer src.Close()

	start := time.Now()
	n := 0
	for n < count {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return n, time.Since(start), feedStats(src), fmt.Errorf("match stage at event %d: %w", n, err)
		}
		h.Handle(ev)
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, time.Since(start), feedStats(src), err
			}
		}
	}
	return n, time.Since(start), feedStats(src), nil
}

func feedStats(src Source) itch.ReaderStats {
	if fs, ok := src.(interface{ FeedStats() itch.ReaderStats }); ok {
		return fs.FeedStats()
	}
	return itch.ReaderStats{}
}

// Print writes the human-readable summary.
func (r *Report) Print(w io.Writer) error {
	p := &printer{w: w}
	p.printf("Processed %d messages (max %d)\n", r.Parsed, r.Max)

	p.printf("\nITCH Parsing\n")
	p.printf("  Parse Time:  %.3f secs\n", r.ParseDuration.Seconds())
	p.printf("  Parse Speed: %.0f msg/sec\n", rate(r.Parsed, r.ParseDuration))

	p.printf("\nLOB Matching\n")
	p.printf("  Match Time:  %.3f secs\n", r.MatchDuration.Seconds())
	p.printf("  Match Speed: %.0f msg/sec\n", rate(r.Matched, r.MatchDuration))

	s := r.Stats
	p.printf("\nOrderbook Statistics:\n")
	p.printf("  Total New Orders:      %d\n", s.New)
	p.printf("  Total Cancel Events:   %d\n", s.Cancel)
	p.printf("  Total Replace Events:  %d\n", s.Replace)
	p.printf("  Rejected Events:       %d\n", s.Rejected)
	p.printf("  Unrouted Events:       %d\n", s.Unrouted)
	p.printf("  Fills:                 %d (%d shares)\n", s.Fills, s.FilledVolume)
	p.printf("  Symbols:               %d\n", s.Symbols)
	p.printf("  Resting Orders:        %d\n", s.Resting)

	f := r.Feed
	p.printf("\nFeed:\n")
	p.printf("  Messages: %d  Events: %d  Skipped: %d  Malformed: %d\n", f.Messages, f.Events, f.Skipped, f.Malformed)
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
