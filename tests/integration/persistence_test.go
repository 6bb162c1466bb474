package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

func TestPostgresPersistParsedRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.OpenPostgres(t)
	setup.RunMigrations(t, db)

	store := storage.NewStore(db, storage.StoreOptions{})
	parser := parse.NewParser(parse.ParserConfig{})

	rec, err := parser.Parse("Name: Jane Doe\nDOB: 1990-05-01\nBlood Pressure: 120/80")
	require.NoError(t, err)

	ctx := context.Background()
	first, err := store.Persist(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.PatientCreated)
	assert.Positive(t, first.PatientID)
	assert.Positive(t, first.SubmissionID)
	assert.False(t, first.CreatedAt.IsZero())

	// The same form submitted again accumulates under the same patient.
	second, err := store.Persist(ctx, rec)
	require.NoError(t, err)
	assert.False(t, second.PatientCreated)
	assert.Equal(t, first.PatientID, second.PatientID)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)

	repos := store.Repositories()
	patient, err := repos.Patients.GetByID(ctx, first.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", patient.Name)
	assert.Equal(t, "1990-05-01", patient.DOB)

	sub, err := repos.Submissions.GetByID(ctx, first.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, first.PatientID, sub.PatientID)
	assert.Equal(t, `{"Blood Pressure":"120/80"}`, sub.FormJSON)

	subs, err := repos.Submissions.ListByPatient(ctx, first.PatientID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestPostgresConcurrentPersistSameIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.OpenPostgres(t)
	setup.RunMigrations(t, db)

	store := storage.NewStore(db, storage.StoreOptions{})
	parser := parse.NewParser(parse.ParserConfig{})

	const writers = 8
	results := make([]*storage.PersistResult, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := parser.Parse(fmt.Sprintf("Name: Riley Chen\nDOB: 2001-07-15\nPain: %d", i%5))
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = store.Persist(context.Background(), rec)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].PatientID, results[i].PatientID,
			"all concurrent submissions must resolve to the same patient")
		if results[i].PatientCreated {
			created++
		}
	}
	assert.Equal(t, 1, created, "the unique constraint must admit exactly one insert")

	ctx := context.Background()
	repos := store.Repositories()
	patients, err := repos.Patients.List(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)

	subs, err := repos.Submissions.ListByPatient(ctx, results[0].PatientID)
	require.NoError(t, err)
	assert.Len(t, subs, writers)
}

func TestPostgresCaseInsensitiveMatching(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.OpenPostgres(t)
	setup.RunMigrations(t, db)

	store := storage.NewStore(db, storage.StoreOptions{CaseInsensitiveNames: true})
	parser := parse.NewParser(parse.ParserConfig{})
	ctx := context.Background()

	recA, err := parser.Parse("Name: Jane Doe\nDOB: 1990-05-01\nPain: 1")
	require.NoError(t, err)
	first, err := store.Persist(ctx, recA)
	require.NoError(t, err)
	assert.True(t, first.PatientCreated)

	// OCR shouting the name on a later scan still matches the same person.
	recB, err := parser.Parse("Name: JANE DOE\nDOB: 1990-05-01\nPain: 2")
	require.NoError(t, err)
	second, err := store.Persist(ctx, recB)
	require.NoError(t, err)
	assert.False(t, second.PatientCreated)
	assert.Equal(t, first.PatientID, second.PatientID)

	repos := store.Repositories()
	patients, err := repos.Patients.List(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Jane Doe", patients[0].Name, "the first writer's casing is kept")
}

func TestPostgresForeignKeyViolation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.OpenPostgres(t)
	setup.RunMigrations(t, db)

	repos := storage.NewRepositories(db, false)
	err := repos.Submissions.Insert(context.Background(), &storage.FormSubmission{
		PatientID: 424242,
		FormJSON:  "{}",
	})
	require.ErrorIs(t, err, storage.ErrForeignKeyViolation)
}
