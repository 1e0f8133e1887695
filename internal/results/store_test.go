package results

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cregis-dev/apex/internal/verifier"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTempStore(t)

	runID, err := store.BeginRun("priority-two-channels")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "priority-two-channels", runs[0].Scenario)
	assert.Equal(t, "running", runs[0].Status)

	require.NoError(t, store.FinishRun(runID, "failed", "round_robin verification failed"))

	runs, err = store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Equal(t, "round_robin verification failed", runs[0].Detail)
}

func TestRecordSampleSet(t *testing.T) {
	store := openTempStore(t)

	runID, err := store.BeginRun("rr-audit")
	require.NoError(t, err)

	set := &verifier.SampleSet{Trials: []verifier.TrialResult{
		{ID: uuid.New().String(), Index: 0, Identity: "A"},
		{ID: uuid.New().String(), Index: 1, Identity: "B"},
		{ID: uuid.New().String(), Index: 2, Err: errors.New("status 502")},
	}}
	require.NoError(t, store.RecordSampleSet(runID, "llm-router", "test-model", set))

	var total, failed int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*), SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END) FROM trials WHERE run_id = ?`, runID,
	).Scan(&total, &failed))
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, failed)

	var identity, errText string
	require.NoError(t, store.db.QueryRow(
		`SELECT identity, error FROM trials WHERE id = ?`, set.Trials[2].ID,
	).Scan(&identity, &errText))
	assert.Empty(t, identity)
	assert.Equal(t, "status 502", errText)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	store, err := Open(path)
	require.NoError(t, err)
	runID, err := store.BeginRun("first")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	runs, err := reopened.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
}
