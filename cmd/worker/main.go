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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visage/internal/annotate"
	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsPort := flag.Int("metrics-port", 8082, "port for worker metrics and health")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting visage enrichment worker")

	// The worker is useless without models: fail hard, unlike the API.
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

	enricher := annotate.NewEnricher(cfg.Enrich, &annotate.DetectionPass{
		Detector: extractor,
		FPS:      cfg.Enrich.FPS,
	})

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Error("ensure nats streams", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeEnrichJobs(ctx, "enrich-worker", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.EnrichJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal enrich job", "error", err)
			return nil // poison message, drop it
		}

		slog.Info("processing enrich job", "video", job.Video, "overwrite", job.Overwrite)

		out, err := enricher.Enrich(ctx, job.Video, job.Overwrite, job.DeleteAVI)
		if err != nil {
			if errors.Is(err, annotate.ErrAlreadyInProgress) {
				// Another worker holds the marker; ack so the queue
				// does not redeliver a job that is already running.
				slog.Info("enrich job already in progress elsewhere", "video", job.Video)
				return nil
			}
			publishResult(ctx, producer, job.Video, "", err)
			return err
		}

		publishResult(ctx, producer, job.Video, out, nil)
		return nil
	})
	if err != nil {
		slog.Error("start enrich consumer", "error", err)
		os.Exit(1)
	}

	// Sample queue depth for the dashboard gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Metrics and health sidecar
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", *metricsPort), Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	slog.Info("worker ready", "metrics_port", *metricsPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	slog.Info("worker stopped")
}

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

func publishResult(ctx context.Context, producer *queue.Producer, video, out string, enrichErr error) {
	evt := models.EnrichEvent{
		Video:      video,
		OutputPath: out,
		FinishedAt: time.Now().UTC(),
	}
	if enrichErr != nil {
		evt.Error = enrichErr.Error()
	}
	if err := producer.PublishEvent(ctx, "enrich", evt); err != nil {
		slog.Warn("publish enrich event", "error", err)
	}
}
