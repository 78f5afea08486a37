package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/visage/internal/vision"
)

func det(x1, y1, x2, y2 float32) vision.Detection {
	return vision.Detection{BBox: [4]float32{x1, y1, x2, y2}, Confidence: 0.9}
}

func TestTrackerConfirmsAfterMinHits(t *testing.T) {
	tr := newTracker(5, 2)

	// First sighting: track opened but not yet confirmed.
	boxes := tr.update([]vision.Detection{det(10, 10, 50, 50)})
	assert.Empty(t, boxes)

	// Second matching sighting confirms it.
	boxes = tr.update([]vision.Detection{det(12, 11, 52, 51)})
	assert.Len(t, boxes, 1)
	assert.Equal(t, [4]float32{12, 11, 52, 51}, boxes[0])
}

func TestTrackerFollowsMovingFace(t *testing.T) {
	tr := newTracker(5, 1)

	tr.update([]vision.Detection{det(0, 0, 40, 40)})
	boxes := tr.update([]vision.Detection{det(5, 5, 45, 45)})

	assert.Len(t, boxes, 1, "a shifted but overlapping box must reuse the track")
	assert.Len(t, tr.tracks, 1)
}

func TestTrackerOpensSeparateTracks(t *testing.T) {
	tr := newTracker(5, 1)

	boxes := tr.update([]vision.Detection{
		det(0, 0, 40, 40),
		det(200, 200, 240, 240),
	})

	assert.Len(t, boxes, 2)
	assert.Len(t, tr.tracks, 2)
}

func TestTrackerExpiresStaleTracks(t *testing.T) {
	tr := newTracker(2, 1)

	tr.update([]vision.Detection{det(0, 0, 40, 40)})

	// Three empty frames exceed maxAge.
	tr.update(nil)
	tr.update(nil)
	tr.update(nil)

	assert.Empty(t, tr.tracks)
}

func TestTrackerOnlyReportsFreshTracks(t *testing.T) {
	tr := newTracker(5, 1)

	tr.update([]vision.Detection{det(0, 0, 40, 40)})

	// Track survives a missed frame but must not be drawn for it.
	boxes := tr.update(nil)
	assert.Empty(t, boxes)
	assert.Len(t, tr.tracks, 1)
}
