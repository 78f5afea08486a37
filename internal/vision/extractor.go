package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	// Register decoders for the formats reference images arrive in.
	_ "image/jpeg"
	_ "image/png"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

// ErrNoFace is returned when the detector finds no usable face in an image.
var ErrNoFace = errors.New("no face detected")

// Extractor ties detector and embedder together for single still images:
// decode, detect, pick the most confident face, crop, embed.
type Extractor struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewExtractor loads both ONNX models from cfg.ModelsDir.
func NewExtractor(cfg config.VisionConfig) (*Extractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
	emb, err := NewEmbedder(embPath, cfg.EmbeddingDim)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Extractor{detector: det, embedder: emb}, nil
}

// ExtractFace produces the embedding and detection metadata for the single
// best face in imageData. Returns ErrNoFace when the detector finds nothing.
func (e *Extractor) ExtractFace(imageData []byte) (*models.FaceObservation, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return e.ExtractFromImage(img)
}

// ExtractFromImage is ExtractFace on an already-decoded image (video frames).
func (e *Extractor) ExtractFromImage(img image.Image) (*models.FaceObservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	start := time.Now()
	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	detections, err := e.detector.Detect(detInput, origW, origH)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		return nil, ErrNoFace
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	faceCrop := cropFace(img, best.BBox)
	if faceCrop == nil {
		return nil, ErrNoFace
	}

	start = time.Now()
	embInput := preprocessForEmbedding(faceCrop, e.embedder.inputW, e.embedder.inputH)
	embedding, err := e.embedder.Extract(embInput)
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return &models.FaceObservation{
		Embedding: embedding,
		Box: models.BoundingBox{
			X:      int(best.BBox[0]),
			Y:      int(best.BBox[1]),
			Width:  int(best.BBox[2] - best.BBox[0]),
			Height: int(best.BBox[3] - best.BBox[1]),
		},
		Confidence: best.Confidence,
	}, nil
}

// DetectAll returns every face in img, for callers that annotate rather than
// identify.
func (e *Extractor) DetectAll(img image.Image) ([]Detection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bounds := img.Bounds()
	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	return e.detector.Detect(detInput, bounds.Dx(), bounds.Dy())
}

// Close releases the ONNX sessions.
func (e *Extractor) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

// --- Image preprocessing helpers ---

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img and converts it to CHW float32 with
// per-channel (pixel - mean) / std normalization.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize; adequate for model input.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts the bbox region plus 10% padding, clamped to img bounds.
// Returns nil for degenerate boxes.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := clampI(int(bbox[0]), bounds.Min.X, bounds.Max.X)
	y1 := clampI(int(bbox[1]), bounds.Min.Y, bounds.Max.Y)
	x2 := clampI(int(bbox[2]), bounds.Min.X, bounds.Max.X)
	y2 := clampI(int(bbox[3]), bounds.Min.Y, bounds.Max.Y)

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := w / 10
	padH := h / 10
	x1 = clampI(x1-padW, bounds.Min.X, bounds.Max.X)
	y1 = clampI(y1-padH, bounds.Min.Y, bounds.Max.Y)
	x2 = clampI(x2+padW, bounds.Min.X, bounds.Max.X)
	y2 = clampI(y2+padH, bounds.Min.Y, bounds.Max.Y)

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}

func clampI(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
