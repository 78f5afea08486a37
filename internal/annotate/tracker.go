package annotate

import (
	"github.com/your-org/visage/internal/vision"
)

// track is one face followed across frames of a single video.
type track struct {
	id              int
	bbox            [4]float32
	hits            int
	timeSinceUpdate int
}

// tracker is a small SORT-style associator: detections are matched to
// existing tracks by IoU, unmatched detections open new tracks, stale tracks
// expire. It smooths the box overlay so annotations don't flicker between
// frames.
type tracker struct {
	tracks  map[int]*track
	nextID  int
	maxAge  int // frames a track survives without a matching detection
	minHits int // detections required before a track is drawn
}

func newTracker(maxAge, minHits int) *tracker {
	return &tracker{
		tracks:  make(map[int]*track),
		maxAge:  maxAge,
		minHits: minHits,
	}
}

// update associates detections with tracks and returns the boxes of all
// confirmed tracks for this frame.
func (t *tracker) update(detections []vision.Detection) [][4]float32 {
	for _, tr := range t.tracks {
		tr.timeSinceUpdate++
	}

	matched := make(map[int]bool)
	detMatched := make(map[int]bool)

	for di, det := range detections {
		bestIoU := float32(0.3)
		bestID := -1

		for id, tr := range t.tracks {
			if matched[id] {
				continue
			}
			if v := vision.IoU(det.BBox, tr.bbox); v > bestIoU {
				bestIoU = v
				bestID = id
			}
		}

		if bestID >= 0 {
			tr := t.tracks[bestID]
			tr.bbox = det.BBox
			tr.hits++
			tr.timeSinceUpdate = 0
			matched[bestID] = true
			detMatched[di] = true
		}
	}

	for di, det := range detections {
		if detMatched[di] {
			continue
		}
		t.nextID++
		t.tracks[t.nextID] = &track{
			id:   t.nextID,
			bbox: det.BBox,
			hits: 1,
		}
	}

	for id, tr := range t.tracks {
		if tr.timeSinceUpdate > t.maxAge {
			delete(t.tracks, id)
		}
	}

	var boxes [][4]float32
	for _, tr := range t.tracks {
		if tr.hits >= t.minHits && tr.timeSinceUpdate == 0 {
			boxes = append(boxes, tr.bbox)
		}
	}
	return boxes
}
