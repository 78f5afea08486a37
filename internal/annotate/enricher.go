package annotate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/observability"
)

var (
	// ErrAlreadyInProgress means another run holds the processing marker.
	ErrAlreadyInProgress = errors.New("enrichment already in progress")

	// ErrMissingIntermediate means the annotation pass produced no AVI.
	ErrMissingIntermediate = errors.New("annotated intermediate not found")

	// ErrMissingTool means no transcoding tool is installed.
	ErrMissingTool = errors.New("ffmpeg not found")

	// ErrConversionFailed means transcoding produced no usable MP4.
	ErrConversionFailed = errors.New("conversion produced invalid mp4")
)

// Pass produces the annotated intermediate container for a source video.
type Pass interface {
	Annotate(ctx context.Context, src, dst string) error
}

// Transcoder converts the intermediate container to the distribution format.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// Enricher runs the annotate-then-transcode job exactly once per input:
// the final MP4 is a cache, and a sibling .processing marker excludes
// concurrent runs. State machine per output: absent → processing → done,
// with the marker always removed on exit so a failed run can be retried.
type Enricher struct {
	cfg  config.EnrichConfig
	pass Pass
	// Transcoder defaults to the ffmpeg implementation; replaceable for
	// tests.
	Transcoder Transcoder
}

func NewEnricher(cfg config.EnrichConfig, pass Pass) *Enricher {
	return &Enricher{
		cfg:        cfg,
		pass:       pass,
		Transcoder: &FFmpegTranscoder{},
	}
}

// OutputPath is the deterministic final path for a source video, derived from
// its base name and the run namespace. The suffix scheme (.avi intermediate,
// .mp4 final, .mp4.processing marker) is load-bearing: the cache check and
// the marker exclusion both key off it across restarts.
func (e *Enricher) OutputPath(video string) string {
	base := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
	return filepath.Join(e.cfg.OutputDir, e.cfg.RunName, base+".mp4")
}

// DeleteAVIDefault reports whether jobs drop the intermediate AVI when the
// request does not say either way.
func (e *Enricher) DeleteAVIDefault() bool {
	return e.cfg.DeleteAVI
}

// Status reports the job state for a source video.
func (e *Enricher) Status(video string) string {
	mp4 := e.OutputPath(video)
	if _, err := os.Stat(mp4 + ".processing"); err == nil {
		return "processing"
	}
	if st, err := os.Stat(mp4); err == nil && st.Size() >= e.cfg.MinMP4Bytes {
		return "done"
	}
	return "absent"
}

// Enrich produces the annotated MP4 for video and returns its path.
//
// If the MP4 already exists above the minimum plausible size and overwrite is
// false, it returns immediately without doing work. If the marker exists the
// call fails fast with ErrAlreadyInProgress; it never queues or blocks.
func (e *Enricher) Enrich(ctx context.Context, video string, overwrite, deleteAVI bool) (string, error) {
	mp4 := e.OutputPath(video)
	avi := strings.TrimSuffix(mp4, ".mp4") + ".avi"
	marker := mp4 + ".processing"

	if !overwrite {
		if st, err := os.Stat(mp4); err == nil && st.Size() >= e.cfg.MinMP4Bytes {
			observability.EnrichJobs.WithLabelValues("cache_hit").Inc()
			return mp4, nil
		}
		// A suspiciously small file falls through and is regenerated.
	}

	if err := os.MkdirAll(filepath.Dir(mp4), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	// O_EXCL makes acquisition atomic: exactly one caller wins the marker.
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			observability.EnrichJobs.WithLabelValues("in_progress").Inc()
			return "", fmt.Errorf("%w: %s", ErrAlreadyInProgress, mp4)
		}
		return "", fmt.Errorf("create processing marker: %w", err)
	}
	_, _ = f.WriteString("processing")
	_ = f.Close()

	// The marker is removed on every exit path; a failed run must never
	// block the next attempt.
	defer func() {
		if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Error("remove processing marker", "marker", marker, "error", err)
		}
	}()

	start := time.Now()

	if err := e.pass.Annotate(ctx, video, avi); err != nil {
		observability.EnrichJobs.WithLabelValues("pass_failed").Inc()
		return "", fmt.Errorf("annotation pass: %w", err)
	}

	if _, err := os.Stat(avi); err != nil {
		observability.EnrichJobs.WithLabelValues("missing_avi").Inc()
		return "", fmt.Errorf("%w: %s", ErrMissingIntermediate, avi)
	}

	if err := e.Transcoder.Transcode(ctx, avi, mp4); err != nil {
		observability.EnrichJobs.WithLabelValues("transcode_failed").Inc()
		return "", err
	}

	st, err := os.Stat(mp4)
	if err != nil || st.Size() == 0 {
		observability.EnrichJobs.WithLabelValues("invalid_mp4").Inc()
		return "", fmt.Errorf("%w: %s", ErrConversionFailed, mp4)
	}

	if deleteAVI {
		if err := os.Remove(avi); err != nil {
			slog.Warn("remove intermediate avi", "path", avi, "error", err)
		}
	}

	observability.EnrichJobs.WithLabelValues("ok").Inc()
	observability.EnrichDuration.Observe(time.Since(start).Seconds())
	slog.Info("video enriched", "video", video, "output", mp4)

	return mp4, nil
}

// FFmpegTranscoder shells out to ffmpeg for the AVI → H.264 MP4 conversion.
type FFmpegTranscoder struct{}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, src, dst string) error {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingTool, err)
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrConversionFailed, err, truncate(string(out), 500))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
