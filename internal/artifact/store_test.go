package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/features"
	"github.com/flowsentry/flowsentry/internal/ml"
)

func trainedPair(t *testing.T) *Pair {
	t.Helper()

	rows := [][]float64{
		{1, 2}, {1.1, 2.1}, {0.9, 1.9}, {1.05, 2.05}, {0.95, 1.95},
	}
	scaler, err := ml.FitScaler(rows)
	require.NoError(t, err)
	scaled, err := scaler.Transform(rows)
	require.NoError(t, err)
	forest, err := ml.FitForest(scaled, ml.ForestOptions{NumTrees: 10, Seed: 42})
	require.NoError(t, err)

	return &Pair{
		Version:   NewVersion(),
		CreatedAt: time.Now().UTC(),
		Columns:   features.Columns,
		Scaler:    scaler,
		Forest:    forest,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	pair := trainedPair(t)

	require.NoError(t, store.Save(pair))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, pair.Version, loaded.Version)
	assert.Equal(t, pair.Columns, loaded.Columns)
	assert.Equal(t, pair.Scaler.Mean, loaded.Scaler.Mean)
	assert.Equal(t, pair.Forest.Threshold, loaded.Forest.Threshold)

	point := []float64{1.0, 2.0}
	assert.Equal(t, pair.Forest.Score(point), loaded.Forest.Score(point))
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrMissing)
}

func TestStore_SaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	first := trainedPair(t)
	require.NoError(t, store.Save(first))

	second := trainedPair(t)
	require.NoError(t, store.Save(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second.Version, loaded.Version)

	// Stale version directories are pruned after a successful swap.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var versionDirs []string
	for _, e := range entries {
		if e.IsDir() {
			versionDirs = append(versionDirs, e.Name())
		}
	}
	assert.Len(t, versionDirs, 1)
}

func TestStore_RefusesMismatchedPair(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	pair := trainedPair(t)
	require.NoError(t, store.Save(pair))

	// Corrupt the forest half with a different version stamp.
	raw, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
	require.NoError(t, err)
	versionDir := string(raw[:len(raw)-1])
	forestPath := filepath.Join(dir, versionDir, "forest.json")

	blob, err := os.ReadFile(forestPath)
	require.NoError(t, err)
	tampered := []byte(`{"version":"stale","forest":` + extractField(t, blob) + `}`)
	require.NoError(t, os.WriteFile(forestPath, tampered, 0o644))

	_, err = store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version mismatch")
}

func TestStore_IncompletePairRejectedOnSave(t *testing.T) {
	store := NewStore(t.TempDir())
	pair := trainedPair(t)
	pair.Forest = nil
	assert.Error(t, store.Save(pair))
}

// extractField pulls the forest object out of a serialized forestDoc so the
// tamper test keeps a structurally valid model body.
func extractField(t *testing.T, blob []byte) string {
	t.Helper()
	const key = `"forest":`
	idx := -1
	for i := 0; i+len(key) <= len(blob); i++ {
		if string(blob[i:i+len(key)]) == key {
			idx = i + len(key)
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	return string(blob[idx : len(blob)-1])
}
