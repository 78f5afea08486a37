package annotate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/your-org/visage/internal/vision"
)

// FrameDetector locates faces in a decoded frame. *vision.Extractor
// satisfies it.
type FrameDetector interface {
	DetectAll(img image.Image) ([]vision.Detection, error)
}

// DetectionPass produces the annotated intermediate container: it decodes the
// source through ffmpeg into a JPEG frame stream, runs detection and tracking
// on each frame, draws the confirmed boxes, and re-encodes the result as an
// MJPEG AVI through a second ffmpeg process.
type DetectionPass struct {
	Detector FrameDetector
	FPS      int
}

var boxColor = color.RGBA{R: 0, G: 200, B: 60, A: 255}

func (p *DetectionPass) Annotate(ctx context.Context, src, dst string) error {
	fps := p.FPS
	if fps <= 0 {
		fps = 10
	}

	// Both subprocesses hang off this context so a mid-stream failure can
	// kill them before Wait. Once the frame loop stops draining stdout the
	// decoder blocks on the full pipe and would otherwise never exit.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	decode := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	decodeOut, err := decode.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout pipe: %w", err)
	}

	encode := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-c:v", "mjpeg",
		"-q:v", "5",
		dst,
	)
	encodeIn, err := encode.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder stdin pipe: %w", err)
	}

	if err := decode.Start(); err != nil {
		return fmt.Errorf("start frame decoder: %w", err)
	}
	if err := encode.Start(); err != nil {
		_ = decode.Process.Kill()
		return fmt.Errorf("start frame encoder: %w", err)
	}

	tr := newTracker(15, 2)
	frames := 0

	streamErr := forEachJPEGFrame(ctx, decodeOut, func(frameData []byte) error {
		img, err := jpeg.Decode(bytes.NewReader(frameData))
		if err != nil {
			slog.Warn("skip undecodable frame", "error", err)
			return nil
		}

		detections, err := p.Detector.DetectAll(img)
		if err != nil {
			return fmt.Errorf("detect frame %d: %w", frames, err)
		}

		annotated := drawBoxes(img, tr.update(detections))
		frames++

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("encode frame %d: %w", frames, err)
		}
		_, err = encodeIn.Write(buf.Bytes())
		return err
	})

	_ = encodeIn.Close()
	if streamErr != nil {
		cancel()
	}
	decodeErr := decode.Wait()
	encodeErr := encode.Wait()

	if streamErr != nil {
		return fmt.Errorf("annotate %s: %w", src, streamErr)
	}
	if decodeErr != nil {
		return fmt.Errorf("frame decoder: %w", decodeErr)
	}
	if encodeErr != nil {
		return fmt.Errorf("frame encoder: %w", encodeErr)
	}
	if frames == 0 {
		return fmt.Errorf("no frames decoded from %s", src)
	}

	slog.Info("annotation pass finished", "src", src, "frames", frames)
	return nil
}

// drawBoxes copies img to an RGBA canvas and strokes each box on it.
func drawBoxes(img image.Image, boxes [][4]float32) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	for _, b := range boxes {
		strokeRect(canvas,
			bounds.Min.X+int(b[0]), bounds.Min.Y+int(b[1]),
			bounds.Min.X+int(b[2]), bounds.Min.Y+int(b[3]), 3)
	}
	return canvas
}

// strokeRect draws a rectangle outline as four filled bars.
func strokeRect(canvas *image.RGBA, x1, y1, x2, y2, thickness int) {
	fill := image.NewUniform(boxColor)
	clip := canvas.Bounds()

	bars := []image.Rectangle{
		image.Rect(x1, y1, x2, y1+thickness),
		image.Rect(x1, y2-thickness, x2, y2),
		image.Rect(x1, y1, x1+thickness, y2),
		image.Rect(x2-thickness, y1, x2, y2),
	}
	for _, bar := range bars {
		draw.Draw(canvas, bar.Intersect(clip), fill, image.Point{}, draw.Src)
	}
}

// forEachJPEGFrame splits a concatenated MJPEG stream on the JPEG SOI/EOI
// markers and hands each complete frame to the callback.
func forEachJPEGFrame(ctx context.Context, r io.Reader, callback func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF {
				return nil // stream ended mid-frame; drop the partial frame
			}
			return err
		}

		if len(frameData) > 0 {
			if err := callback(frameData); err != nil {
				return err
			}
		}
	}
}

// findJPEGStart consumes input until the FF D8 start-of-image marker.
func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

// readUntilJPEGEnd returns the frame bytes through the FF D9 end-of-image
// marker, including the already-consumed header.
func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
