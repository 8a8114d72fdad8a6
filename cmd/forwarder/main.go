package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/guarda/internal/config"
	"github.com/your-org/guarda/internal/forward"
	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/observability"
	"github.com/your-org/guarda/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if !cfg.Forward.Enabled {
		slog.Error("plate forwarding is disabled; set forward.enabled and forward.url")
		os.Exit(1)
	}
	if cfg.NATS.URL == "" {
		slog.Error("nats.url is required by the forwarder")
		os.Exit(1)
	}

	slog.Info("starting guarda plate forwarder",
		"workers", cfg.Forward.Workers,
		"url", cfg.Forward.URL,
		"max_deliver", cfg.Forward.MaxDeliver,
	)

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	client := forward.NewClient(cfg.Forward)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumePlates(ctx, "plate-forwarder", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.PlateEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			observability.ForwardResults.WithLabelValues("invalid").Inc()
			return queue.Permanent(fmt.Errorf("unmarshal plate event: %w", err))
		}

		res, err := client.Send(ctx, ev)
		if err != nil {
			var statusErr *forward.StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				slog.Warn("plate rejected by endpoint",
					"plate", ev.Plate, "event_id", ev.EventID, "status", statusErr.StatusCode)
				observability.ForwardResults.WithLabelValues("rejected").Inc()
				return queue.Permanent(err)
			}
			observability.ForwardResults.WithLabelValues("retry").Inc()
			return fmt.Errorf("forward plate %s: %w", ev.Plate, err)
		}

		observability.ForwardResults.WithLabelValues("ok").Inc()
		slog.Info("plate forwarded", "plate", ev.Plate, "event_id", ev.EventID, "status", res.StatusCode)
		return nil
	}, cfg.Forward.Workers, cfg.Forward.MaxDeliver)
	if err != nil {
		slog.Error("start plate consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := producer.Ping(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"nats unavailable"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("forwarder metrics listening", "addr", cfg.Forward.MetricsAddr)
		if err := http.ListenAndServe(cfg.Forward.MetricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report pending plates
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.PendingPlates(ctx)
				if err == nil {
					observability.ForwardQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down forwarder...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("forwarder stopped")
}
