package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: visage
  user: visage
  password: secret
nats:
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 0.5, cfg.Vision.DetectionThreshold)
	assert.Equal(t, 512, cfg.Vision.EmbeddingDim)
	assert.Equal(t, "registered_faces", cfg.Identity.ReferencePrefix)
	assert.Equal(t, 0.4, cfg.Identity.MatchThreshold)
	assert.Equal(t, "enrich_outputs", cfg.Enrich.OutputDir)
	assert.Equal(t, "person", cfg.Enrich.RunName)
	assert.Equal(t, int64(1024), cfg.Enrich.MinMP4Bytes)
	assert.Equal(t, 10, cfg.Enrich.FPS)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
identity:
  match_threshold: 0.25
enrich:
  run_name: faces
  min_mp4_bytes: 4096
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.25, cfg.Identity.MatchThreshold)
	assert.Equal(t, "faces", cfg.Enrich.RunName)
	assert.Equal(t, int64(4096), cfg.Enrich.MinMP4Bytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  password: from-file
`)

	t.Setenv("VISAGE_DB_HOST", "db.override")
	t.Setenv("VISAGE_DB_PASSWORD", "from-env")
	t.Setenv("VISAGE_SERVER_PORT", "7070")
	t.Setenv("VISAGE_MATCH_THRESHOLD", "0.35")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 0.35, cfg.Identity.MatchThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5433, Name: "visage", User: "app", Password: "pw",
	}
	assert.Equal(t, "postgres://app:pw@db:5433/visage?sslmode=disable", d.DSN())
}
