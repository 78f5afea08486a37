package annotate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/config"
)

// fakePass records invocations and writes a plausible intermediate file.
type fakePass struct {
	calls   int
	err     error
	skipAVI bool
}

func (p *fakePass) Annotate(_ context.Context, _, dst string) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.skipAVI {
		return nil
	}
	return os.WriteFile(dst, []byte("avi-frames"), 0o644)
}

// fakeTranscoder writes an MP4 of the configured size.
type fakeTranscoder struct {
	calls int
	err   error
	size  int
}

func (t *fakeTranscoder) Transcode(_ context.Context, _, dst string) error {
	t.calls++
	if t.err != nil {
		return t.err
	}
	return os.WriteFile(dst, make([]byte, t.size), 0o644)
}

func newTestEnricher(t *testing.T, pass *fakePass, tc *fakeTranscoder) *Enricher {
	t.Helper()
	e := NewEnricher(config.EnrichConfig{
		OutputDir:   t.TempDir(),
		RunName:     "person",
		MinMP4Bytes: 1024,
	}, pass)
	e.Transcoder = tc
	return e
}

func TestEnrichSuccess(t *testing.T) {
	pass := &fakePass{}
	tc := &fakeTranscoder{size: 2048}
	e := newTestEnricher(t, pass, tc)

	out, err := e.Enrich(context.Background(), "/videos/demo.avi", false, false)
	require.NoError(t, err)
	assert.Equal(t, e.OutputPath("/videos/demo.avi"), out)
	assert.Equal(t, 1, pass.calls)
	assert.Equal(t, 1, tc.calls)

	// Intermediate kept, marker gone.
	avi := filepath.Join(filepath.Dir(out), "demo.avi")
	_, err = os.Stat(avi)
	assert.NoError(t, err)
	_, err = os.Stat(out + ".processing")
	assert.True(t, os.IsNotExist(err))
}

func TestEnrichDeletesIntermediate(t *testing.T) {
	e := newTestEnricher(t, &fakePass{}, &fakeTranscoder{size: 2048})

	out, err := e.Enrich(context.Background(), "/videos/demo.mov", false, true)
	require.NoError(t, err)

	avi := filepath.Join(filepath.Dir(out), "demo.avi")
	_, err = os.Stat(avi)
	assert.True(t, os.IsNotExist(err))
}

func TestEnrichCacheHit(t *testing.T) {
	pass := &fakePass{}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	mp4 := e.OutputPath("cached.avi")
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o755))
	require.NoError(t, os.WriteFile(mp4, make([]byte, 4096), 0o644))

	out, err := e.Enrich(context.Background(), "cached.avi", false, false)
	require.NoError(t, err)
	assert.Equal(t, mp4, out)
	assert.Zero(t, pass.calls, "a valid cached output must short-circuit the pass")
}

func TestEnrichRegeneratesTinyOutput(t *testing.T) {
	// A file below the floor is treated as a failed earlier run.
	pass := &fakePass{}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	mp4 := e.OutputPath("tiny.avi")
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o755))
	require.NoError(t, os.WriteFile(mp4, []byte("stub"), 0o644))

	_, err := e.Enrich(context.Background(), "tiny.avi", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.calls)
}

func TestEnrichOverwriteIgnoresCache(t *testing.T) {
	pass := &fakePass{}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	mp4 := e.OutputPath("redo.avi")
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o755))
	require.NoError(t, os.WriteFile(mp4, make([]byte, 4096), 0o644))

	_, err := e.Enrich(context.Background(), "redo.avi", true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.calls)
}

func TestEnrichAlreadyInProgress(t *testing.T) {
	pass := &fakePass{}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	mp4 := e.OutputPath("busy.avi")
	marker := mp4 + ".processing"
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o755))
	require.NoError(t, os.WriteFile(marker, []byte("processing"), 0o644))

	_, err := e.Enrich(context.Background(), "busy.avi", false, false)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Zero(t, pass.calls)

	// The foreign marker belongs to the other run and must survive.
	_, err = os.Stat(marker)
	assert.NoError(t, err)
}

func TestEnrichMarkerRemovedOnPassFailure(t *testing.T) {
	pass := &fakePass{err: fmt.Errorf("decoder exploded")}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	_, err := e.Enrich(context.Background(), "bad.avi", false, false)
	require.Error(t, err)

	_, err = os.Stat(e.OutputPath("bad.avi") + ".processing")
	assert.True(t, os.IsNotExist(err), "marker must be removed after a failed run")
}

func TestEnrichMissingIntermediate(t *testing.T) {
	pass := &fakePass{skipAVI: true}
	e := newTestEnricher(t, pass, &fakeTranscoder{size: 2048})

	_, err := e.Enrich(context.Background(), "hollow.avi", false, false)
	assert.ErrorIs(t, err, ErrMissingIntermediate)

	_, err = os.Stat(e.OutputPath("hollow.avi") + ".processing")
	assert.True(t, os.IsNotExist(err))
}

func TestEnrichEmptyMP4IsConversionFailure(t *testing.T) {
	e := newTestEnricher(t, &fakePass{}, &fakeTranscoder{size: 0})

	_, err := e.Enrich(context.Background(), "zero.avi", false, false)
	assert.ErrorIs(t, err, ErrConversionFailed)

	_, err = os.Stat(e.OutputPath("zero.avi") + ".processing")
	assert.True(t, os.IsNotExist(err))
}

func TestEnrichTranscodeError(t *testing.T) {
	tc := &fakeTranscoder{err: fmt.Errorf("%w: codec missing", ErrConversionFailed)}
	e := newTestEnricher(t, &fakePass{}, tc)

	_, err := e.Enrich(context.Background(), "broken.avi", false, false)
	assert.ErrorIs(t, err, ErrConversionFailed)
}

func TestOutputPath(t *testing.T) {
	e := NewEnricher(config.EnrichConfig{OutputDir: "/out", RunName: "person"}, &fakePass{})

	assert.Equal(t, filepath.Join("/out", "person", "clip.mp4"),
		e.OutputPath("/data/videos/clip.avi"))
	assert.Equal(t, filepath.Join("/out", "person", "clip.mp4"),
		e.OutputPath("clip.mov"))
}

func TestStatus(t *testing.T) {
	e := newTestEnricher(t, &fakePass{}, &fakeTranscoder{size: 2048})

	assert.Equal(t, "absent", e.Status("x.avi"))

	mp4 := e.OutputPath("x.avi")
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o755))

	require.NoError(t, os.WriteFile(mp4+".processing", nil, 0o644))
	assert.Equal(t, "processing", e.Status("x.avi"))
	require.NoError(t, os.Remove(mp4+".processing"))

	require.NoError(t, os.WriteFile(mp4, []byte("tiny"), 0o644))
	assert.Equal(t, "absent", e.Status("x.avi"), "undersized output does not count as done")

	require.NoError(t, os.WriteFile(mp4, make([]byte, 4096), 0o644))
	assert.Equal(t, "done", e.Status("x.avi"))
}
