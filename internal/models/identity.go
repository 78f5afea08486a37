package models

import (
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a face location in pixel coordinates, captured at enrollment.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// IdentityRecord is one enrolled identity: a name, its reference embedding,
// and the detection metadata from the enrollment image. The embedding is
// immutable once written; the id is the sole handle for deletion.
type IdentityRecord struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	Embedding      []float32   `json:"embedding,omitempty" db:"embedding"`
	FacialArea     BoundingBox `json:"facial_area" db:"facial_area"`
	FaceConfidence float32     `json:"face_confidence" db:"face_confidence"`
	// SourceKey is the object-store key of the permanent reference image copy.
	SourceKey string    `json:"source_key" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Match is one nearest-neighbor result, ordered by ascending cosine distance.
type Match struct {
	ID             uuid.UUID
	Name           string
	FacialArea     BoundingBox
	FaceConfidence float32
	Distance       float64
}

// FaceObservation is the detector+extractor output for a single image.
type FaceObservation struct {
	Embedding  []float32
	Box        BoundingBox
	Confidence float32
}
