package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/annotate"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/pkg/dto"
)

// JobQueue publishes enrichment jobs for the workers. *queue.Producer
// satisfies it.
type JobQueue interface {
	PublishEnrichJob(ctx context.Context, data interface{}) error
}

// EnrichmentHandler submits annotation jobs to the worker queue and answers
// status polls. The handler never runs the job itself; it only inspects the
// deterministic output paths.
type EnrichmentHandler struct {
	enricher *annotate.Enricher
	producer JobQueue
}

func NewEnrichmentHandler(enricher *annotate.Enricher, producer JobQueue) *EnrichmentHandler {
	return &EnrichmentHandler{enricher: enricher, producer: producer}
}

// Submit queues an enrichment job. A finished output short-circuits to a
// cache hit unless overwrite is requested.
func (h *EnrichmentHandler) Submit(c *gin.Context) {
	var req dto.EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	output := h.enricher.OutputPath(req.Video)
	status := h.enricher.Status(req.Video)

	if status == "done" && !req.Overwrite {
		c.JSON(http.StatusOK, dto.EnrichResponse{Video: req.Video, OutputPath: output, Status: "done"})
		return
	}
	if status == "processing" {
		c.JSON(http.StatusConflict, dto.EnrichResponse{Video: req.Video, OutputPath: output, Status: "processing"})
		return
	}

	deleteAVI := h.enricher.DeleteAVIDefault()
	if req.DeleteAVI != nil {
		deleteAVI = *req.DeleteAVI
	}

	job := models.EnrichJob{
		Video:     req.Video,
		Overwrite: req.Overwrite,
		DeleteAVI: deleteAVI,
		Submitted: time.Now(),
	}
	if err := h.producer.PublishEnrichJob(c.Request.Context(), job); err != nil {
		slog.Error("queue enrich job", "video", req.Video, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnrichResponse{Video: req.Video, OutputPath: output, Status: "queued"})
}

// Status reports done/processing/absent for a video's enrichment output.
// The :video param is the source base name.
func (h *EnrichmentHandler) Status(c *gin.Context) {
	video := filepath.Base(c.Param("video"))

	c.JSON(http.StatusOK, dto.EnrichResponse{
		Video:      video,
		OutputPath: h.enricher.OutputPath(video),
		Status:     h.enricher.Status(video),
	})
}
