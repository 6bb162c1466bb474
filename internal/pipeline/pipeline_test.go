package pipeline

import (
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/forms-engine/internal/cache"
	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// countingEngine returns a fixed text for every page and counts calls, so
// tests can prove the cache skipped recognition.
type countingEngine struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Recognize(ctx context.Context, in extract.Input) (extract.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return extract.Result{Text: e.text, Confidence: 0.9, HasConfidence: true}, nil
}

func (e *countingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func writeFormImage(t *testing.T, dir, name string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))

	return path
}

func newTestLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "json",
		Output:      io.Discard,
		ServiceName: "pipeline-test",
	})
}

func newTestPipeline(t *testing.T, engine extract.Engine) (*Pipeline, *storage.Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	dir, err := storage.ResolveMigrationsDir("db/migrations")
	require.NoError(t, err)
	_, err = storage.NewMigrationManager(db, dir, "sqlite").Migrate(context.Background())
	require.NoError(t, err)

	logger := newTestLogger()
	store := storage.NewStore(db, storage.StoreOptions{})
	extractor := extract.NewService(engine, logger, extract.ServiceOptions{Workers: 1})
	parser := parse.NewParser(parse.ParserConfig{})

	memCache := cache.NewMemoryClient(16)
	t.Cleanup(func() { _ = memCache.Close() })

	return New(logger, extractor, parser, store, memCache, Options{}), store
}

func TestProcessEndToEnd(t *testing.T) {
	engine := &countingEngine{text: "Name: Jane Doe\nDOB: 1990-05-01\nBlood Pressure: 120/80"}
	p, store := newTestPipeline(t, engine)

	path := writeFormImage(t, t.TempDir(), "form.png")
	res, err := p.Process(context.Background(), path, "")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, StagePersisted, res.Stage)
	assert.Equal(t, 1, res.PageCount)
	assert.False(t, res.CacheHit)
	assert.Positive(t, res.PatientID)
	assert.Positive(t, res.SubmissionID)
	assert.NotEmpty(t, res.SourceHash)

	require.NotNil(t, res.Record)
	assert.Equal(t, "Jane Doe", res.Record.Name)
	assert.Equal(t, "1990-05-01", res.Record.DOB)

	sub, err := store.Repositories().Submissions.GetByID(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, `{"Blood Pressure":"120/80"}`, sub.FormJSON)
}

func TestProcessMissingNameLeavesNoRows(t *testing.T) {
	engine := &countingEngine{text: "DOB: 1990-05-01\nPain: 3"}
	p, store := newTestPipeline(t, engine)

	path := writeFormImage(t, t.TempDir(), "form.png")
	res, err := p.Process(context.Background(), path, "")

	require.ErrorIs(t, err, parse.ErrMissingRequiredField)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageExtracted, res.Stage)
	assert.NotEmpty(t, res.Error)

	ctx := context.Background()
	patients, err := store.Repositories().Patients.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, patients)

	var count int
	require.NoError(t, store.DB().
		QueryRowContext(ctx, `SELECT COUNT(*) FROM forms_data`).Scan(&count))
	assert.Zero(t, count)
}

func TestProcessCacheHitSkipsRecognition(t *testing.T) {
	engine := &countingEngine{text: "Name: Jane Doe\nDOB: 1990-05-01"}
	p, store := newTestPipeline(t, engine)
	ctx := context.Background()

	path := writeFormImage(t, t.TempDir(), "form.png")

	first, err := p.Process(ctx, path, "")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, engine.callCount())

	second, err := p.Process(ctx, path, "")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, engine.callCount(), "second run must not re-run recognition")

	// Both runs persisted a submission against the same patient.
	assert.Equal(t, first.PatientID, second.PatientID)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)

	subs, err := store.Repositories().Submissions.ListByPatient(ctx, first.PatientID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestProcessNoPersistLeavesStorageUntouched(t *testing.T) {
	engine := &countingEngine{text: "Name: Jane Doe\nDOB: 1990-05-01"}
	p, store := newTestPipeline(t, engine)
	ctx := context.Background()

	path := writeFormImage(t, t.TempDir(), "form.png")
	res, err := p.ProcessNoPersist(ctx, path, "")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, StageParsed, res.Stage)
	assert.Zero(t, res.PatientID)
	require.NotNil(t, res.Record)
	assert.Equal(t, "Jane Doe", res.Record.Name)

	patients, err := store.Repositories().Patients.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, patients)
}

func TestProcessUnsupportedFormat(t *testing.T) {
	engine := &countingEngine{text: "unused"}
	p, _ := newTestPipeline(t, engine)

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	res, err := p.Process(context.Background(), path, "")
	require.ErrorIs(t, err, rasterize.ErrUnsupportedFormat)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageReceived, res.Stage)
	assert.Zero(t, engine.callCount())
}

func TestPersistFailureReturnsRecordForRetry(t *testing.T) {
	engine := &countingEngine{text: "Name: Pat Lee\nDOB: smudged mark\nPain: 4"}
	p, store := newTestPipeline(t, engine)
	ctx := context.Background()

	// Two existing patients share the name, so the degraded name-only
	// match cannot pick one.
	repos := store.Repositories()
	patientA := &storage.Patient{Name: "Pat Lee", DOB: "1990-01-01"}
	_, err := repos.Patients.InsertOrGet(ctx, patientA)
	require.NoError(t, err)
	patientB := &storage.Patient{Name: "Pat Lee", DOB: "1991-02-02"}
	_, err = repos.Patients.InsertOrGet(ctx, patientB)
	require.NoError(t, err)

	path := writeFormImage(t, t.TempDir(), "form.png")
	res, err := p.Process(ctx, path, "")

	require.ErrorIs(t, err, storage.ErrDuplicateAmbiguity)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageParsed, res.Stage)
	require.NotNil(t, res.Record, "parsed record must survive a persist failure")

	raw, ok := res.Record.Fields.Get("dob_raw")
	require.True(t, ok)
	assert.Equal(t, "smudged mark", raw)

	// Once the ambiguity is resolved the record persists without re-OCR.
	_, err = store.DB().ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, patientB.ID)
	require.NoError(t, err)

	retry, err := p.RetryPersist(ctx, res.Record)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, retry.Status)
	assert.Equal(t, patientA.ID, retry.PatientID)
	assert.Equal(t, 1, engine.callCount())
}
