package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/pkg/dto"
)

type memStore struct {
	recs []models.IdentityRecord
}

func (s *memStore) Insert(_ context.Context, rec models.IdentityRecord) (uuid.UUID, error) {
	rec.ID = uuid.New()
	s.recs = append(s.recs, rec)
	return rec.ID, nil
}

func (s *memStore) FindNearest(_ context.Context, embedding []float32, k int) ([]models.Match, error) {
	matches := make([]models.Match, 0, len(s.recs))
	for _, r := range s.recs {
		var dist float64
		for i := range embedding {
			d := float64(embedding[i] - r.Embedding[i])
			dist += d * d
		}
		matches = append(matches, models.Match{ID: r.ID, Name: r.Name, Distance: dist})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *memStore) FindByName(_ context.Context, name string) ([]models.IdentityRecord, error) {
	var out []models.IdentityRecord
	for _, r := range s.recs {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) List(_ context.Context) ([]models.IdentityRecord, error) {
	return s.recs, nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	for i, r := range s.recs {
		if r.ID == id {
			s.recs = append(s.recs[:i], s.recs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// memExtractor treats the literal bytes "face" as the only face-bearing image.
type memExtractor struct{}

func (memExtractor) ExtractFace(imageData []byte) (*models.FaceObservation, error) {
	if !bytes.Contains(imageData, []byte("face")) {
		return nil, fmt.Errorf("no face found")
	}
	return &models.FaceObservation{
		Embedding:  []float32{1, 0},
		Confidence: 0.9,
	}, nil
}

type memImages struct{}

func (memImages) Put(context.Context, string, []byte, string) error { return nil }
func (memImages) Get(context.Context, string) ([]byte, error)       { return nil, fmt.Errorf("not found") }
func (memImages) List(context.Context, string) ([]string, error)    { return nil, nil }

func newTestRouter(store *memStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	svc := identity.NewService(store, memExtractor{}, memImages{}, "registered_faces", 0.4)
	h := NewIdentityHandler(svc, nil)

	r := gin.New()
	r.POST("/v1/identities", h.Register)
	r.POST("/v1/identities/verify", h.Verify)
	r.DELETE("/v1/identities/:id", h.Delete)
	r.GET("/v1/identities", h.List)
	return r
}

func multipartBody(t *testing.T, name string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, w.WriteField("name", name))
	}
	if image != nil {
		fw, err := w.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doMultipart(t *testing.T, r *gin.Engine, path, name string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, name, image)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterEndpoint(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(store)

	rec := doMultipart(t, r, "/v1/identities", "alice", []byte("face-bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp dto.RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Status, "✅"))
	assert.Equal(t, "alice", resp.Name)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Len(t, store.recs, 1)
}

func TestRegisterEndpointDuplicate(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(store)

	rec := doMultipart(t, r, "/v1/identities", "bob", []byte("face-bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doMultipart(t, r, "/v1/identities", "bob", []byte("face-bytes"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already registered")
}

func TestRegisterEndpointNoFace(t *testing.T) {
	r := newTestRouter(&memStore{})

	rec := doMultipart(t, r, "/v1/identities", "carol", []byte("just noise"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "No face detected")
}

func TestRegisterEndpointMissingInput(t *testing.T) {
	r := newTestRouter(&memStore{})

	rec := doMultipart(t, r, "/v1/identities", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(store)

	rec := doMultipart(t, r, "/v1/identities", "dave", []byte("face-bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doMultipart(t, r, "/v1/identities/verify", "", []byte("face-probe"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, "dave", resp.Name)
}

func TestVerifyEndpointNoMatchIsOK(t *testing.T) {
	r := newTestRouter(&memStore{})

	rec := doMultipart(t, r, "/v1/identities/verify", "", []byte("face-probe"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
	assert.Contains(t, resp.Message, "No similar faces")
}

func TestVerifyEndpointMissingImage(t *testing.T) {
	r := newTestRouter(&memStore{})

	rec := doMultipart(t, r, "/v1/identities/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(store)

	rec := doMultipart(t, r, "/v1/identities", "erin", []byte("face-bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := store.recs[0].ID

	req := httptest.NewRequest(http.MethodDelete, "/v1/identities/"+id.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "✅")
	assert.Empty(t, store.recs)
}

func TestDeleteEndpointUnknownID(t *testing.T) {
	r := newTestRouter(&memStore{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/identities/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestListEndpoint(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(store)

	doMultipart(t, r, "/v1/identities", "frank", []byte("face-bytes"))

	req := httptest.NewRequest(http.MethodGet, "/v1/identities", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Identities []dto.IdentityResponse `json:"identities"`
		Total      int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "frank", resp.Identities[0].Name)
}
