package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/internal/model"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, s.Load())
	assert.Empty(t, s.History())
}

func TestLoad_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(path)
	require.Error(t, s.Load())
}

func TestAppendSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	runID := NewRunID()

	s := NewStore(path)
	require.NoError(t, s.Load())
	s.Append(Record{
		RunID:     runID,
		StepID:    "load_modules",
		Status:    model.StatusSuccess,
		Message:   "loaded 2 modules",
		Duration:  120 * time.Millisecond,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, s.Save())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	rec, ok := reloaded.Latest("load_modules")
	require.True(t, ok)
	assert.Equal(t, runID, rec.RunID)
	assert.Equal(t, model.StatusSuccess, rec.Status)
}

func TestLatest_ReflectsMostRecentRecord(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	s.Append(Record{RunID: "run-1", StepID: "init_cluster", Status: model.StatusFailed})
	s.Append(Record{RunID: "run-2", StepID: "init_cluster", Status: model.StatusSuccess})

	rec, ok := s.Latest("init_cluster")
	require.True(t, ok)
	assert.Equal(t, "run-2", rec.RunID)
	assert.Equal(t, model.StatusSuccess, rec.Status)

	assert.Len(t, s.History(), 2)
}

func TestSave_ReplacesExistingFileAtomically(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path)
	s.Append(Record{RunID: "run-1", StepID: "a", Status: model.StatusSuccess})
	require.NoError(t, s.Save())

	s.Append(Record{RunID: "run-1", StepID: "b", Status: model.StatusSuccess})
	require.NoError(t, s.Save())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.History(), 2)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestNewRunID_Sortable(t *testing.T) {
	t.Parallel()

	first := NewRunID()
	time.Sleep(2 * time.Millisecond)
	second := NewRunID()
	assert.Less(t, first, second)
}
