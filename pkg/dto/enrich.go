package dto

type EnrichRequest struct {
	Video     string `json:"video" binding:"required"`
	Overwrite bool   `json:"overwrite"`
	// DeleteAVI overrides the configured default when present.
	DeleteAVI *bool `json:"delete_avi"`
}

type EnrichResponse struct {
	Video      string `json:"video"`
	OutputPath string `json:"output_path"`
	Status     string `json:"status"`
}

// WSEvent is the envelope pushed to dashboard WebSocket clients.
type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
