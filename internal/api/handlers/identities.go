package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/pkg/dto"
)

// IdentityHandler exposes the register/verify/delete protocol to the
// dashboard. Errors from the service are turned into structured responses
// here; no raw error ever crosses the HTTP boundary.
type IdentityHandler struct {
	svc      *identity.Service
	producer *queue.Producer
}

func NewIdentityHandler(svc *identity.Service, producer *queue.Producer) *IdentityHandler {
	return &IdentityHandler{svc: svc, producer: producer}
}

// Register accepts a multipart form with a name field and an image file.
func (h *IdentityHandler) Register(c *gin.Context) {
	name := c.PostForm("name")

	imageData, filename, ok := readImageFile(c)
	if !ok && name == "" {
		c.JSON(http.StatusBadRequest, dto.RegisterResponse{Status: "❌ Name and image are required."})
		return
	}

	result, err := h.svc.Register(c.Request.Context(), name, imageData, filename)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, dto.RegisterResponse{Status: "❌ Name and image are required."})
		case errors.Is(err, identity.ErrDuplicateIdentity):
			c.JSON(http.StatusConflict, dto.RegisterResponse{
				Status: fmt.Sprintf("❌ User '%s' is already registered.", name),
			})
		case errors.Is(err, identity.ErrNoFaceDetected):
			c.JSON(http.StatusUnprocessableEntity, dto.RegisterResponse{Status: "❌ No face detected in the image."})
		default:
			slog.Error("register failed", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, dto.RegisterResponse{
				Status: fmt.Sprintf("❌ Failed to register user: %v", err),
			})
		}
		return
	}

	h.publishIdentityEvent("registered", result.ID.String(), result.Name)

	c.JSON(http.StatusCreated, dto.RegisterResponse{
		Status: fmt.Sprintf("✅ User '%s' registered successfully! id=%s", result.Name, result.ID),
		ID:     result.ID,
		Name:   result.Name,
	})
}

// Verify accepts a multipart image and returns the nearest-match result.
// A no-face or no-match outcome is HTTP 200 with verified=false.
func (h *IdentityHandler) Verify(c *gin.Context) {
	imageData, _, ok := readImageFile(c)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.VerifyResponse{Verified: false, Message: "Image is required."})
		return
	}

	result, err := h.svc.Verify(c.Request.Context(), imageData)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, dto.VerifyResponse{Verified: false, Message: "Image is required."})
			return
		}
		slog.Error("verify failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.VerifyResponse{
			Verified: false,
			Message:  fmt.Sprintf("Database query failed: %v", err),
		})
		return
	}

	if !result.Matched {
		c.JSON(http.StatusOK, dto.VerifyResponse{Verified: false, Message: result.Message})
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Verified:   result.Verified,
		Name:       result.Name,
		Confidence: result.Confidence,
		ID:         result.ID,
	})
}

// Delete removes a record by id and relays the store's status message.
func (h *IdentityHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	msg, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, dto.DeleteResponse{Status: "❌ Record ID is required."})
			return
		}
		slog.Error("delete failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, dto.DeleteResponse{
			Status: fmt.Sprintf("❌ Failed to delete record '%s': %v", id, err),
		})
		return
	}

	status := http.StatusOK
	if strings.HasPrefix(msg, "❌") {
		status = http.StatusNotFound
	} else {
		h.publishIdentityEvent("deleted", id, "")
	}
	c.JSON(status, dto.DeleteResponse{Status: msg})
}

// List returns all enrolled identities, newest first.
func (h *IdentityHandler) List(c *gin.Context) {
	recs, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(recs))
	for _, r := range recs {
		resp = append(resp, dto.IdentityResponse{
			ID:             r.ID,
			Name:           r.Name,
			FacialArea:     dto.Box(r.FacialArea),
			FaceConfidence: r.FaceConfidence,
			SourceKey:      r.SourceKey,
			CreatedAt:      r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"identities": resp, "total": len(resp)})
}

func (h *IdentityHandler) publishIdentityEvent(action, id, name string) {
	if h.producer == nil {
		return
	}
	evt := models.IdentityEvent{Action: action, ID: id, Name: name}
	if err := h.producer.PublishEvent(context.Background(), "identity", evt); err != nil {
		slog.Warn("publish identity event", "action", action, "error", err)
	}
}

// readImageFile pulls the uploaded image out of the multipart form.
func readImageFile(c *gin.Context) (data []byte, filename string, ok bool) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		return nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return nil, "", false
	}
	return data, header.Filename, true
}
