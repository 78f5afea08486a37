package dto

import "github.com/google/uuid"

// RegisterResponse is the registration outcome: a human-readable status line
// plus the new record id on success.
type RegisterResponse struct {
	Status string    `json:"status"`
	ID     uuid.UUID `json:"id,omitempty"`
	Name   string    `json:"name,omitempty"`
}

// VerifyResponse always carries either a match (verified flag, name,
// confidence, id) or an explicit reason in message. It is never empty.
type VerifyResponse struct {
	Verified   bool      `json:"verified"`
	Name       string    `json:"name,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	ID         uuid.UUID `json:"id,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// DeleteResponse carries the store's status message verbatim.
type DeleteResponse struct {
	Status string `json:"status"`
}

type IdentityResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	FacialArea     Box       `json:"facial_area"`
	FaceConfidence float32   `json:"face_confidence"`
	SourceKey      string    `json:"source_key"`
	CreatedAt      string    `json:"created_at"`
}

type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}
