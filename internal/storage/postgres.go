package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/models"
)

// ErrDuplicateName is returned by Insert when the unique constraint on the
// name column rejects the record.
var ErrDuplicateName = errors.New("identity name already registered")

// PostgresStore is the durable identity store: one row per enrolled identity,
// with pgvector nearest-neighbor search over the embedding column.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(cfg config.DatabaseConfig, embeddingDim int) (*PostgresStore, error) {
	return newPostgresStore(cfg.DSN(), cfg.MaxConns, embeddingDim)
}

func newPostgresStore(dsn string, maxConns, embeddingDim int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dim: embeddingDim}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the identities table and its indexes if they don't
// exist. Name uniqueness lives here rather than in the service layer so two
// concurrent registrations of the same name cannot both succeed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS identities (
			id              UUID PRIMARY KEY,
			name            TEXT NOT NULL,
			embedding       vector(%d) NOT NULL,
			box_x           INT NOT NULL DEFAULT 0,
			box_y           INT NOT NULL DEFAULT 0,
			box_w           INT NOT NULL DEFAULT 0,
			box_h           INT NOT NULL DEFAULT 0,
			face_confidence REAL NOT NULL DEFAULT 0,
			source_key      TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE UNIQUE INDEX IF NOT EXISTS identities_name_key ON identities (name)`,
		`CREATE INDEX IF NOT EXISTS identities_embedding_idx
			ON identities USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert persists a new identity record and returns its freshly assigned id.
// Each insert is a single atomic statement; no insert depends on another.
func (s *PostgresStore) Insert(ctx context.Context, rec models.IdentityRecord) (uuid.UUID, error) {
	if len(rec.Embedding) != s.dim {
		return uuid.Nil, fmt.Errorf("embedding dimension %d, store expects %d", len(rec.Embedding), s.dim)
	}

	id := uuid.New()
	vec := pgvector.NewVector(rec.Embedding)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, name, embedding, box_x, box_y, box_w, box_h, face_confidence, source_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.Name, vec,
		rec.FacialArea.X, rec.FacialArea.Y, rec.FacialArea.Width, rec.FacialArea.Height,
		rec.FaceConfidence, rec.SourceKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrDuplicateName
		}
		return uuid.Nil, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

// FindNearest returns the k closest records by cosine distance, ascending.
// An empty store yields an empty slice, not an error.
func (s *PostgresStore) FindNearest(ctx context.Context, embedding []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		k = 1
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, box_x, box_y, box_w, box_h, face_confidence, embedding <=> $1 AS distance
		 FROM identities
		 ORDER BY embedding <=> $1
		 LIMIT $2`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("find nearest: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.Name,
			&m.FacialArea.X, &m.FacialArea.Y, &m.FacialArea.Width, &m.FacialArea.Height,
			&m.FaceConfidence, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// FindByName returns all records with the exact name. Used for the
// duplicate-prevention policy check, not for similarity matching.
func (s *PostgresStore) FindByName(ctx context.Context, name string) ([]models.IdentityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, box_x, box_y, box_w, box_h, face_confidence, source_key, created_at
		 FROM identities WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// List returns all enrolled identities, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]models.IdentityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, box_x, box_y, box_w, box_h, face_confidence, source_key, created_at
		 FROM identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// Delete removes the record if present. Deleting an unknown id is a no-op
// and reports found=false with a nil error.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete identity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanIdentities(rows pgx.Rows) ([]models.IdentityRecord, error) {
	var recs []models.IdentityRecord
	for rows.Next() {
		var r models.IdentityRecord
		if err := rows.Scan(&r.ID, &r.Name,
			&r.FacialArea.X, &r.FacialArea.Y, &r.FacialArea.Width, &r.FacialArea.Height,
			&r.FaceConfidence, &r.SourceKey, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
