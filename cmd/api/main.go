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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visage/internal/annotate"
	"github.com/your-org/visage/internal/api"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/vision"
	"github.com/your-org/visage/pkg/dto"
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

	slog.Info("starting visage API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database, cfg.Vision.EmbeddingDim)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Initialize ONNX Runtime and the face extractor
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	extractor, err := vision.NewExtractor(cfg.Vision)
	if err != nil {
		slog.Error("init face extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	// Identity service: bootstrap the reference folder once before serving.
	identitySvc := identity.NewService(db, extractor, minioStore,
		cfg.Identity.ReferencePrefix, cfg.Identity.MatchThreshold)
	if err := identitySvc.Bootstrap(context.Background()); err != nil {
		slog.Warn("bootstrap reference images", "error", err)
	}

	enricher := annotate.NewEnricher(cfg.Enrich, &annotate.DetectionPass{
		Detector: extractor,
		FPS:      cfg.Enrich.FPS,
	})

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Relay dashboard events from NATS to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var data json.RawMessage
		if err := json.Unmarshal(msg.Data(), &data); err != nil {
			return err
		}

		evtType := "identity"
		if msg.Subject() == queue.EventsSubjectBase+".enrich" {
			evtType = "enrich"
		}

		hub.BroadcastEvent(&dto.WSEvent{Type: evtType, Data: data})
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Identity: identitySvc,
		Enricher: enricher,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
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

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
