package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/guarda/internal/access"
	"github.com/your-org/guarda/internal/api"
	"github.com/your-org/guarda/internal/api/handlers"
	"github.com/your-org/guarda/internal/api/ws"
	"github.com/your-org/guarda/internal/cache"
	"github.com/your-org/guarda/internal/config"
	"github.com/your-org/guarda/internal/gate"
	"github.com/your-org/guarda/internal/observability"
	"github.com/your-org/guarda/internal/ocr"
	"github.com/your-org/guarda/internal/queue"
	"github.com/your-org/guarda/internal/storage"
	"github.com/your-org/guarda/internal/vision"
	"github.com/your-org/guarda/pkg/dto"
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
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting guarda API", "port", cfg.Server.Port, "embedding_dim", cfg.Access.EmbeddingDim)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database, cfg.Access.EmbeddingDim)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			slog.Error("apply migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	checks := []handlers.Check{
		{Name: "postgres", Ping: db.Ping},
		{Name: "minio", Ping: minioStore.Ping},
	}

	// Snapshot cache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		checks = append(checks, handlers.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		slog.Warn("redis not configured; snapshots load from postgres on every check")
		checks = append(checks, handlers.Check{Name: "redis"})
	}
	snapshots := cache.NewSnapshotCache(rdb, db, cfg.Redis.TTL)

	// WebSocket hub
	hub := ws.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	deps := gate.Deps{
		Snapshots: snapshots,
		Events:    db,
		Captures:  minioStore,
	}

	// Connect to NATS. Without it decisions go straight to the hub and
	// plates are not forwarded.
	var producer *queue.Producer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		deps.Publisher = producer
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error {
			return producer.Ping()
		}})

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create decision consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeDecisions(ctx, func(_ context.Context, msg jetstream.Msg) error {
			var decision dto.AccessDecision
			if err := json.Unmarshal(msg.Data(), &decision); err != nil {
				slog.Error("unmarshal decision", "error", err, "subject", msg.Subject())
				return nil
			}
			hub.BroadcastDecision(decision)
			return nil
		})
		if err != nil {
			slog.Warn("start decision consumer", "error", err)
		}
	} else {
		slog.Warn("nats not configured; decisions are broadcast locally")
		checks = append(checks, handlers.Check{Name: "nats"})
	}

	// OCR backend
	if ocrClient := ocr.NewClient(cfg.OCR); ocrClient.Enabled() {
		deps.Plates = ocrClient
	} else {
		slog.Warn("ocr not configured; vehicle checks and plate reads are unavailable")
	}

	// Face models. Image endpoints answer 503 when they fail to load.
	var extractor handlers.FaceExtractor
	if err := vision.InitRuntime(cfg.Vision.ONNXLibrary); err != nil {
		slog.Warn("onnx runtime init failed; face endpoints unavailable", "error", err)
	} else {
		defer vision.DestroyRuntime()
		x, err := vision.NewExtractor(cfg.Vision, cfg.Access.EmbeddingDim)
		if err != nil {
			slog.Warn("face extractor init failed; face endpoints unavailable", "error", err)
		} else {
			defer x.Close()
			extractor = x
			deps.Faces = x
			slog.Info("face extractor ready", "dim", x.Dim())
		}
	}

	core := access.NewCore(
		access.NewMatcher(cfg.Access.EmbeddingDim, cfg.Access.FaceThreshold, cfg.Access.Epsilon()),
		access.NewNormalizer(cfg.Access.CorrectionEnabled(), nil),
	)
	service := gate.NewService(core, deps, gate.Options{
		StoreCaptures:    cfg.Access.StoreCaptures,
		PublishDecisions: cfg.Access.PublishDecisions && producer != nil,
		ForwardPlates:    cfg.Forward.Enabled && producer != nil,
	})

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKeys:          cfg.Server.Keys(),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		MaxUploadBytes:   int64(cfg.Server.MaxUploadMB) << 20,
		DB:               db,
		Objects:          minioStore,
		Extractor:        extractor,
		Gate:             service,
		Cache:            snapshots,
		Hub:              hub,
		Checks:           checks,
		BroadcastLocally: producer == nil || !cfg.Access.PublishDecisions,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.Harden(router, cfg.RateLimit.RequestsPerMinute),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
