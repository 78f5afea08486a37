package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}

	assert.InDelta(t, 1.0, IoU(a, a), 1e-6)

	// Disjoint boxes
	assert.Equal(t, float32(0), IoU(a, [4]float32{20, 20, 30, 30}))

	// Half overlap: intersection 50, union 150
	b := [4]float32{5, 0, 15, 10}
	assert.InDelta(t, 50.0/150.0, float64(IoU(a, b)), 1e-6)

	// Degenerate box
	assert.Equal(t, float32(0), IoU([4]float32{5, 5, 5, 5}, [4]float32{5, 5, 5, 5}))
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.8}, // heavy overlap, lower score
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.7},
	}

	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}

func TestNMSKeepsHighestFirst(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.5},
		{BBox: [4]float32{100, 100, 110, 110}, Confidence: 0.95},
	}

	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.95), kept[0].Confidence)
}

func TestNMSEmpty(t *testing.T) {
	assert.Empty(t, nms(nil, 0.4))
}

func TestResizeImage(t *testing.T) {
	src := solidImage(100, 50, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	dst := resizeImage(src, 640, 640)
	bounds := dst.Bounds()
	assert.Equal(t, 640, bounds.Dx())
	assert.Equal(t, 640, bounds.Dy())

	r, g, b, _ := dst.At(320, 320).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(100), g>>8)
	assert.Equal(t, uint32(50), b>>8)
}

func TestImageToFloat32CHW(t *testing.T) {
	// A 127.5-mean gray pixel normalizes to ~0 in every channel.
	src := solidImage(4, 4, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	data := imageToFloat32CHW(src, 2, 2, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
	require.Len(t, data, 3*2*2)
	for i, v := range data {
		assert.InDelta(t, 0.5/128.0, v, 1e-6, "index %d", i)
	}
}

func TestImageToFloat32CHWChannelOrder(t *testing.T) {
	src := solidImage(2, 2, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	data := imageToFloat32CHW(src, 2, 2, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	require.Len(t, data, 12)

	// Channel planes are laid out R, G, B.
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(255), data[i])
	}
	for i := 4; i < 12; i++ {
		assert.Equal(t, float32(0), data[i])
	}
}

func TestCropFacePadsAndClamps(t *testing.T) {
	src := solidImage(100, 100, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	crop := cropFace(src, [4]float32{20, 20, 60, 60})
	require.NotNil(t, crop)

	// 40x40 box with 10% padding on each side becomes 48x48.
	assert.Equal(t, 48, crop.Bounds().Dx())
	assert.Equal(t, 48, crop.Bounds().Dy())
}

func TestCropFaceAtImageEdge(t *testing.T) {
	src := solidImage(50, 50, color.RGBA{A: 255})

	// Box flush to the origin: padding must clamp, not go negative.
	crop := cropFace(src, [4]float32{0, 0, 20, 20})
	require.NotNil(t, crop)
	assert.Equal(t, 22, crop.Bounds().Dx())
	assert.Equal(t, 22, crop.Bounds().Dy())
}

func TestCropFaceDegenerateBox(t *testing.T) {
	src := solidImage(50, 50, color.RGBA{A: 255})

	assert.Nil(t, cropFace(src, [4]float32{30, 30, 30, 30}))
	assert.Nil(t, cropFace(src, [4]float32{40, 40, 10, 10}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, clampI(3, 5, 10))
	assert.Equal(t, 10, clampI(12, 5, 10))
	assert.Equal(t, 7, clampI(7, 5, 10))

	assert.Equal(t, float32(0), clampF(-3, 0, 640))
	assert.Equal(t, float32(640), clampF(700, 0, 640))
}
