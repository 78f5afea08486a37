package models

import "time"

// EnrichJob is the queued request to produce an annotated copy of a video.
type EnrichJob struct {
	Video     string    `json:"video"`
	Overwrite bool      `json:"overwrite"`
	DeleteAVI bool      `json:"delete_avi"`
	Submitted time.Time `json:"submitted"`
}

// EnrichEvent reports the outcome of an enrichment job.
type EnrichEvent struct {
	Video      string    `json:"video"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// IdentityEvent reports an enrollment change for dashboard consumers.
type IdentityEvent struct {
	Action string `json:"action"` // registered, deleted
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
}
