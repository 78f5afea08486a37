package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/storage"
)

// Store is the identity persistence consumed by the service.
// *storage.PostgresStore satisfies it.
type Store interface {
	Insert(ctx context.Context, rec models.IdentityRecord) (uuid.UUID, error)
	FindNearest(ctx context.Context, embedding []float32, k int) ([]models.Match, error)
	FindByName(ctx context.Context, name string) ([]models.IdentityRecord, error)
	List(ctx context.Context) ([]models.IdentityRecord, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Extractor produces a face embedding plus detection metadata from raw image
// bytes. *vision.Extractor satisfies it.
type Extractor interface {
	ExtractFace(imageData []byte) (*models.FaceObservation, error)
}

// ImageStore keeps the permanent reference-image copies.
// *storage.MinIOStore satisfies it.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Service owns the enrollment policy around the store: duplicate prevention,
// confidence thresholding, and bootstrap loading of the reference images.
// Construct one per process and inject it where needed.
type Service struct {
	store     Store
	extractor Extractor
	images    ImageStore

	// refPrefix is the object-store prefix acting as the reference folder.
	refPrefix string
	// threshold is the cosine-distance cutoff for the verify decision.
	threshold float64
}

func NewService(store Store, extractor Extractor, images ImageStore, refPrefix string, threshold float64) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		images:    images,
		refPrefix: strings.TrimSuffix(refPrefix, "/"),
		threshold: threshold,
	}
}

// RegisterResult reports a successful enrollment.
type RegisterResult struct {
	ID   uuid.UUID
	Name string
}

// VerifyResult is the structured outcome of a verification. Exactly one of
// the two shapes applies: Matched with name/confidence/id, or not Matched
// with a reason in Message.
type VerifyResult struct {
	Matched bool
	Message string

	Name       string
	Confidence float64
	ID         uuid.UUID
	// Verified is the threshold decision for the nearest match. It is
	// informational: the caller owns the accept/reject call.
	Verified bool
}

// Register enrolls a new identity. The steps run strictly in order: input
// validation, duplicate-name check, detection+embedding, permanent image
// copy, store insert. No embedding work happens for a duplicate name.
func (s *Service) Register(ctx context.Context, name string, imageData []byte, filename string) (*RegisterResult, error) {
	if strings.TrimSpace(name) == "" || len(imageData) == 0 {
		observability.Registrations.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: name and image are required", ErrInvalidInput)
	}

	existing, err := s.store.FindByName(ctx, name)
	if err != nil {
		observability.Registrations.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(existing) > 0 {
		observability.Registrations.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, name)
	}

	obs, err := s.extractor.ExtractFace(imageData)
	if err != nil {
		observability.Registrations.WithLabelValues("no_face").Inc()
		return nil, fmt.Errorf("%w: %v", ErrNoFaceDetected, err)
	}

	// Permanent copy first, so the reference folder never lags the index.
	key := s.referenceKey(name, filename)
	if err := s.images.Put(ctx, key, imageData, contentTypeFor(filename)); err != nil {
		observability.Registrations.WithLabelValues("image_store_error").Inc()
		return nil, fmt.Errorf("store reference image: %w", err)
	}

	id, err := s.store.Insert(ctx, models.IdentityRecord{
		Name:           name,
		Embedding:      obs.Embedding,
		FacialArea:     obs.Box,
		FaceConfidence: obs.Confidence,
		SourceKey:      key,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			// Lost the check-then-insert race; the unique index caught it.
			observability.Registrations.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, name)
		}
		observability.Registrations.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	observability.Registrations.WithLabelValues("ok").Inc()
	slog.Info("identity registered", "name", name, "id", id, "source_key", key)

	return &RegisterResult{ID: id, Name: name}, nil
}

// Verify finds the enrolled identity closest to the face in imageData.
// A faceless image or an empty store is a normal negative result, never an
// error.
func (s *Service) Verify(ctx context.Context, imageData []byte) (*VerifyResult, error) {
	if len(imageData) == 0 {
		observability.Verifications.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}

	obs, err := s.extractor.ExtractFace(imageData)
	if err != nil {
		observability.Verifications.WithLabelValues("no_face").Inc()
		return &VerifyResult{Matched: false, Message: "No face detected in the input image."}, nil
	}

	matches, err := s.store.FindNearest(ctx, obs.Embedding, 1)
	if err != nil {
		observability.Verifications.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(matches) == 0 {
		observability.Verifications.WithLabelValues("no_match").Inc()
		return &VerifyResult{Matched: false, Message: "No similar faces found in the database."}, nil
	}

	best := matches[0]
	// Round the distance before subtracting; the confidence contract is
	// 1 - round4(distance).
	distance := math.Round(best.Distance*10000) / 10000

	observability.Verifications.WithLabelValues("match").Inc()

	return &VerifyResult{
		Matched:    true,
		Name:       best.Name,
		Confidence: 1 - distance,
		ID:         best.ID,
		Verified:   best.Distance <= s.threshold,
	}, nil
}

// Delete removes a record by id. An unknown or malformed id yields a
// failure-style message, not an error, and touches no other records.
func (s *Service) Delete(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		observability.Deletions.WithLabelValues("invalid_input").Inc()
		return "", fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		observability.Deletions.WithLabelValues("not_found").Inc()
		return fmt.Sprintf("❌ Record '%s' not found.", id), nil
	}

	found, err := s.store.Delete(ctx, uid)
	if err != nil {
		observability.Deletions.WithLabelValues("store_error").Inc()
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		observability.Deletions.WithLabelValues("not_found").Inc()
		return fmt.Sprintf("❌ Record '%s' not found.", id), nil
	}

	observability.Deletions.WithLabelValues("ok").Inc()
	slog.Info("identity deleted", "id", id)
	return fmt.Sprintf("✅ Record '%s' deleted successfully.", id), nil
}

// List returns all enrolled identities.
func (s *Service) List(ctx context.Context) ([]models.IdentityRecord, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return recs, nil
}

// Bootstrap scans the reference-image prefix once and enrolls every image
// whose inferred name has no record yet. Per-image failures are logged and
// skipped; only a listing failure aborts.
func (s *Service) Bootstrap(ctx context.Context) error {
	keys, err := s.images.List(ctx, s.refPrefix+"/")
	if err != nil {
		return fmt.Errorf("list reference images: %w", err)
	}

	// Images written by Register carry their key as the record's source.
	// Checking that first keeps a sanitized multi-word name ("John Doe" ->
	// john_doe_*.jpg, inferred name "john") from re-enrolling after a restart.
	existing, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list enrolled identities: %w", err)
	}
	enrolledKeys := make(map[string]bool, len(existing))
	for _, rec := range existing {
		if rec.SourceKey != "" {
			enrolledKeys[rec.SourceKey] = true
		}
	}

	loaded := 0
	for _, key := range keys {
		if !isImageKey(key) {
			continue
		}
		if enrolledKeys[key] {
			slog.Debug("bootstrap skip, key already enrolled", "key", key)
			continue
		}

		name := nameFromKey(key)
		if name == "" {
			continue
		}

		existing, err := s.store.FindByName(ctx, name)
		if err != nil {
			slog.Warn("bootstrap lookup failed", "key", key, "error", err)
			continue
		}
		if len(existing) > 0 {
			slog.Debug("bootstrap skip, already enrolled", "name", name)
			continue
		}

		data, err := s.images.Get(ctx, key)
		if err != nil {
			slog.Warn("bootstrap read failed", "key", key, "error", err)
			continue
		}

		obs, err := s.extractor.ExtractFace(data)
		if err != nil {
			slog.Warn("bootstrap skip, no face detected", "key", key)
			continue
		}

		id, err := s.store.Insert(ctx, models.IdentityRecord{
			Name:           name,
			Embedding:      obs.Embedding,
			FacialArea:     obs.Box,
			FaceConfidence: obs.Confidence,
			SourceKey:      key,
		})
		if err != nil {
			slog.Warn("bootstrap insert failed", "key", key, "error", err)
			continue
		}

		loaded++
		slog.Info("bootstrap enrolled reference image", "name", name, "id", id, "key", key)
	}

	slog.Info("bootstrap complete", "scanned", len(keys), "enrolled", loaded)
	return nil
}

// referenceKey builds the permanent-copy key: sanitized name plus a short
// uniqueness suffix, so re-registering different images never collides.
func (s *Service) referenceKey(name, filename string) string {
	safe := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		ext = ".jpg"
	}

	return fmt.Sprintf("%s/%s_%s%s", s.refPrefix, safe, suffix, ext)
}

// nameFromKey infers the identity name from a reference-image key:
// the base filename up to the first underscore, extension stripped.
func nameFromKey(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	if i := strings.Index(base, "_"); i >= 0 {
		base = base[:i]
	}
	return base
}

func isImageKey(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func contentTypeFor(filename string) string {
	if strings.ToLower(path.Ext(filename)) == ".png" {
		return "image/png"
	}
	return "image/jpeg"
}
