package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found in an image, in original-image pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Detector runs RetinaFace (det_10g) face detection via ONNX Runtime.
// Sessions pre-allocate their input/output tensors, so a Detector must not
// be shared across goroutines without external synchronization.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// det_10g emits anchor-relative boxes at three strides, two anchors per cell.
var detStrides = []int{8, 16, 32}

const anchorsPerCell = 2

// NewDetector loads the RetinaFace ONNX model from modelPath.
func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output tensor names and row counts are fixed by the det_10g export:
	// scores, boxes and landmarks per stride, with
	// rows = (640/stride)^2 * anchorsPerCell.
	type outputSpec struct {
		name string
		rows int64
		cols int64
	}
	specs := []outputSpec{
		{"448", 12800, 1}, {"471", 3200, 1}, {"494", 800, 1}, // scores
		{"451", 12800, 4}, {"474", 3200, 4}, {"497", 800, 4}, // boxes
		{"454", 12800, 10}, {"477", 3200, 10}, {"500", 800, 10}, // landmarks
	}

	outputNames := make([]string, len(specs))
	outputTensors := make([]*ort.Tensor[float32], len(specs))
	outputValues := make([]ort.Value, len(specs))
	for i, spec := range specs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.rows, spec.cols))
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs detection on a preprocessed CHW frame and returns NMS-filtered
// faces scaled back to the original image size.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(origW, origH), 0.4), nil
}

// decode converts the anchor-relative stride outputs into pixel boxes.
func (d *Detector) decode(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range detStrides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerCell; a++ {
					if scores[idx] >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						// Box outputs are normalized anchor-to-edge distances.
						x1 := (anchorX - boxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - boxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + boxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + boxes[idx*4+3]*st) * scaleH

						detections = append(detections, Detection{
							BBox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Confidence: scores[idx],
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms drops lower-confidence detections overlapping a kept one above
// iouThreshold.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && IoU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

// IoU computes intersection-over-union of two x1,y1,x2,y2 boxes.
func IoU(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
