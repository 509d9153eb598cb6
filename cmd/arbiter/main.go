package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/order-arbiter/internal/config"
	"github.com/nathanyu/order-arbiter/internal/handler"
	"github.com/nathanyu/order-arbiter/internal/marketdata"
	"github.com/nathanyu/order-arbiter/internal/matching"
	"github.com/nathanyu/order-arbiter/internal/middleware"
	"github.com/nathanyu/order-arbiter/internal/publisher"
	"github.com/nathanyu/order-arbiter/internal/replay"
	"github.com/nathanyu/order-arbiter/internal/sequencer"
	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

const serviceName = "order-arbiter"

func main() {
	if err := run(); err != nil {
		telemetry.Logger.Error("order arbiter failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	telemetry.InitLogger(serviceName, cfg.LogLevel)
	log := telemetry.Logger

	shutdownTracer, err := telemetry.InitTracer(telemetry.TracerConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.OTel.Endpoint,
		Environment: cfg.OTel.Environment,
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdownTracer = func() {}
	}
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Core components ---

	// Matching engine (per-symbol books plus the id routing table)
	engine := matching.NewEngine()

	// Sequencer (single writer, stamps sequence IDs, emits fills). Replay
	// waits on the publishers rather than dropping fills.
	seq := sequencer.NewSequencer(engine, cfg.ChannelBuffer,
		sequencer.WithInvariantChecks(cfg.DebugInvariants),
		sequencer.WithBlockingOutput(ctx),
	)

	// Fill sinks: candlesticks always, NATS and Redis when configured
	candles := marketdata.NewCandles(time.Minute)
	sinks, err := buildSinks(ctx, cfg, candles)
	if err != nil {
		return err
	}

	// --- Wire channels ---
	//
	// Feed → Replay → Sequencer.Handle → [ResultOut] → publisher.Run → sinks
	go seq.Run(ctx)
	pubDone := make(chan struct{})
	go func() {
		publisher.Run(ctx, seq.ResultOut, sinks)
		close(pubDone)
	}()

	// --- Servers ---
	metricsSrv := startMetricsServer(cfg.MetricsPort)
	var srv *http.Server
	if cfg.Serve {
		srv = startHTTPServer(cfg, seq, candles)
	}

	// --- Replay ---
	report, replayErr := replay.Replay(ctx, replay.OpenFile(cfg.ITCHFile), seq, cfg.MaxMessages)
	if report != nil {
		if err := report.Print(os.Stdout); err != nil {
			log.Warn("failed to print report", "error", err)
		}
	}
	if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
		log.Error("replay failed", "file", cfg.ITCHFile, "error", replayErr)
	}

	// Let the publisher drain what the replay produced.
	seq.Close()
	<-pubDone
	if err := sinks.Close(); err != nil {
		log.Warn("failed to close sinks", "error", err)
	}

	if srv != nil && ctx.Err() == nil {
		log.Info("replay done, serving diagnostics until interrupted", "port", cfg.Port)
		<-ctx.Done()
	}

	// --- Graceful shutdown ---
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", "error", err)
		}
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}

	log.Info("order arbiter stopped")
	if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
		return replayErr
	}
	return nil
}

func buildSinks(ctx context.Context, cfg *config.Config, candles *marketdata.Candles) (publisher.Multi, error) {
	sinks := publisher.Multi{candles}

	if cfg.NATS.URL != "" {
		nats, err := publisher.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, nats)
		telemetry.Logger.Info("publishing fills to NATS", "url", cfg.NATS.URL)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			sinks.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sinks = append(sinks, publisher.NewRedisPublisher(client))
		telemetry.Logger.Info("publishing fills to Redis streams", "addr", cfg.Redis.Addr)
	}
	return sinks, nil
}

func startHTTPServer(cfg *config.Config, seq *sequencer.Sequencer, candles *marketdata.Candles) *http.Server {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Tracing(), middleware.Metrics())

	h := handler.NewHandler(seq, candles)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		telemetry.Logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Error("http server error", "error", err)
		}
	}()
	return srv
}

func startMetricsServer(port int) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsMux,
	}
	go func() {
		telemetry.Logger.Info("metrics server listening", "port", port)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Error("metrics server error", "error", err)
		}
	}()
	return metricsSrv
}
