// Command blackbox is the process bootstrap for the integrity plane: it
// loads configuration, wires the transport, recorder, incident bundler and
// pipeline orchestration together, and runs until interrupted. Process
// bootstrap itself is out of core scope (spec.md §1's "external
// collaborators, not specified here"), so this stays intentionally thin:
// no HTTP status endpoint, no TUI, no flag surface beyond a config path.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Adityaakr/k-blackbox/internal/config"
	"github.com/Adityaakr/k-blackbox/internal/health"
	"github.com/Adityaakr/k-blackbox/internal/incident"
	"github.com/Adityaakr/k-blackbox/internal/pipeline"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
	"github.com/Adityaakr/k-blackbox/internal/transport"
	"github.com/Adityaakr/k-blackbox/internal/wire"
	"github.com/Adityaakr/k-blackbox/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env BLACKBOX_* always applies)")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic("couldn't build logger: " + err.Error())
	}
	defer zapLogger.Sync()

	rec, err := recorder.OpenWithRingCapacity(cfg.RecordingDir+"/session.ndjson", zapLogger, cfg.ReplayRingSize)
	if err != nil {
		zapLogger.Fatal("failed to open journal recorder", zap.Error(err))
	}
	defer rec.Close()

	bundler, err := incident.New(cfg.IncidentDir, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open incident bundler", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)

	tr := transport.NewTransport(transport.Config{
		URL:                 cfg.ExchangeURL,
		Symbols:             cfg.Symbols,
		Depth:               cfg.Depth,
		PingInterval:        cfg.PingInterval,
		SubscribeBatchSize:  cfg.SubscribeBatchSize,
		SubscribeAckTimeout: cfg.SubscribeAckTimeout,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		CooldownDuration:    cfg.CooldownDuration,
		BackoffBase:         cfg.BackoffBase,
		BackoffCap:          cfg.BackoffCap,
		MaxMessageBytes:     cfg.MaxMessageBytes,
		EventBufferSize:     cfg.EventBufferSize,
	}, zapLogger, rec, wire.NewSeqTracker())

	p := pipeline.New(pipeline.Config{
		Depth:                      cfg.Depth,
		MismatchReconnectThreshold: cfg.MismatchReconnectThreshold,
		IncidentPreWindow:          cfg.IncidentPreWindow,
		IncidentPostWindow:         cfg.IncidentPostWindow,
		IncidentConfigSnapshot: incident.Config{
			Symbols: cfg.Symbols,
			Depth:   cfg.Depth,
		},
	}, cfg.Symbols, zapLogger, tr, rec, bundler, metrics)

	tr.SetSlowConsumerHook(func() {
		metrics.SlowConsumer.Inc()
		p.Health().Events().Push(health.EventSlowConsumer, "", "events channel was full")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := tr.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Error("transport exited", zap.Error(err))
		}
	}()
	go func() {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Error("pipeline exited", zap.Error(err))
		}
	}()

	zapLogger.Info("blackbox running", zap.String("exchange_url", cfg.ExchangeURL), zap.Strings("symbols", cfg.Symbols))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	cancel()
	rec.Flush()
}
