package storage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, dims int) FeatureStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"files": func(t *testing.T, dims int) FeatureStore {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "features"), dims)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, dims int) FeatureStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "features.db"), dims)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func collect(t *testing.T, s FeatureStore) []*models.Record {
	t.Helper()
	var out []*models.Record
	for rec, err := range s.List(context.Background()) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestFeatureStore_RoundTrip(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 3)
			ctx := context.Background()
			created := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)
			meta := models.Metadata{Model: "clip", CreatedAt: created, SourceReference: "cat.jpg"}

			input := []float32{3, 0, 4}
			id, err := s.Put(ctx, input, meta)
			require.NoError(t, err)
			assert.Equal(t, []float32{3, 0, 4}, input, "caller's slice must not be modified")

			rec, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, rec.ID)
			assert.InDelta(t, 0.6, rec.Vector[0], 1e-6)
			assert.InDelta(t, 0.0, rec.Vector[1], 1e-6)
			assert.InDelta(t, 0.8, rec.Vector[2], 1e-6)
			assert.Equal(t, id, rec.Metadata.ID)
			assert.Equal(t, "clip", rec.Metadata.Model)
			assert.Equal(t, "cat.jpg", rec.Metadata.SourceReference)
			assert.True(t, created.Equal(rec.Metadata.CreatedAt), "created_at: got %s", rec.Metadata.CreatedAt)
		})
	}
}

func TestFeatureStore_Normalization(t *testing.T) {
	vectors := [][]float32{
		{1, 1, 1, 1},
		{1e-20, 0, 0, 3e-20},
		{-1000, 250, 3, 0.5},
		{0, 0, 0, 7},
	}
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 4)
			ctx := context.Background()
			for _, v := range vectors {
				id, err := s.Put(ctx, v, models.Metadata{Model: "m"})
				require.NoError(t, err)
				rec, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.InDelta(t, 1.0, utils.L2Norm(rec.Vector), 1e-5)
			}
		})
	}
}

func TestFeatureStore_CreatedAtStamped(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s, err := NewFileStore(t.TempDir(), 2, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	id, err := s.Put(context.Background(), []float32{1, 0}, models.Metadata{Model: "m"})
	require.NoError(t, err)
	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(rec.Metadata.CreatedAt))
}

func TestFeatureStore_DegenerateVector(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 3)
			ctx := context.Background()
			_, err := s.Put(ctx, []float32{1, 2, 3}, models.Metadata{Model: "m"})
			require.NoError(t, err)

			_, err = s.Put(ctx, []float32{0, 0, 0}, models.Metadata{Model: "m"})
			require.ErrorIs(t, err, models.ErrDegenerateVector)
			assert.Len(t, collect(t, s), 1)
			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestFeatureStore_InvalidVectors(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", nil},
		{"wrong dimension", []float32{1, 2}},
		{"NaN", []float32{1, float32(math.NaN()), 0}},
		{"Inf", []float32{float32(math.Inf(1)), 0, 0}},
	}
	s, err := NewFileStore(t.TempDir(), 3)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(context.Background(), tt.vec, models.Metadata{})
			require.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
	assert.Empty(t, collect(t, s))
}

func TestFeatureStore_GetNotFound(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 2)
			ctx := context.Background()
			_, err := s.Get(ctx, newID())
			assert.ErrorIs(t, err, models.ErrNotFound)
			_, err = s.Get(ctx, "../../etc/passwd")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestFeatureStore_Delete(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 2)
			ctx := context.Background()
			id, err := s.Put(ctx, []float32{1, 1}, models.Metadata{Model: "m"})
			require.NoError(t, err)

			require.NoError(t, s.Delete(ctx, id))
			_, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, models.ErrNotFound)
			assert.Empty(t, collect(t, s))

			require.NoError(t, s.Delete(ctx, id), "delete must be idempotent")
			require.NoError(t, s.Delete(ctx, "not-a-uuid"))
		})
	}
}

func TestFeatureStore_UniqueIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 10,000 records")
	}
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := s.Put(ctx, []float32{float32(i + 1), 1}, models.Metadata{Model: "m"})
		require.NoError(t, err)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 10000)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, n)
}

func TestFeatureStore_ListRestartable(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 2)
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				_, err := s.Put(ctx, []float32{1, float32(i)}, models.Metadata{Model: "m"})
				require.NoError(t, err)
			}
			assert.Len(t, collect(t, s), 5)
			assert.Len(t, collect(t, s), 5)

			// Stopping early must not break the next scan.
			for range s.List(ctx) {
				break
			}
			assert.Len(t, collect(t, s), 5)
		})
	}
}

func TestFeatureStore_ListCancelled(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), []float32{1, 0}, models.Metadata{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var gotErr error
	for _, err := range s.List(ctx) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)

	_, err = s.Put(ctx, []float32{1, 0}, models.Metadata{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeatureStore_GetCancelled(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 2)
			id, err := s.Put(context.Background(), []float32{1, 0}, models.Metadata{Model: "m"})
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = s.Get(ctx, id)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
			assert.NotEqual(t, models.KindCorrupt, models.KindOf(err))
			assert.False(t, models.IsRecordLevel(err))
		})
	}
}

func TestSQLiteStore_ClosedDatabaseIsNotCorrupt(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "features.db"), 2)
	require.NoError(t, err)
	ctx := context.Background()
	id, err := s.Put(ctx, []float32{1, 0}, models.Metadata{Model: "m"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, id)
	require.Error(t, err)
	assert.NotEqual(t, models.KindCorrupt, models.KindOf(err))

	// A store-level failure ends the scan instead of being skipped as a bad record.
	var errs []error
	for _, err := range s.List(ctx) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.False(t, models.IsRecordLevel(errs[0]))
}

func TestFileStore_ListStopsPromptlyOnCancel(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := s.Put(context.Background(), []float32{1, float32(i)}, models.Metadata{Model: "m"})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var seen int
	var lastErr error
	for rec, err := range s.List(ctx) {
		if err != nil {
			lastErr = err
			continue
		}
		require.NotNil(t, rec)
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen, "no record should be read after cancellation")
	assert.ErrorIs(t, lastErr, context.Canceled)
}

func TestFileStore_SidecarWriteFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 2)
	require.NoError(t, err)

	const fixedID = "0f8fad5b-d9cb-469f-a165-70867728950e"
	orig := newID
	newID = func() string { return fixedID }
	t.Cleanup(func() { newID = orig })

	// A directory where the sidecar should go makes the final rename fail.
	require.NoError(t, os.Mkdir(s.metaPath(fixedID), 0755))

	_, err = s.Put(context.Background(), []float32{1, 0}, models.Metadata{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreWriteFailed)

	_, statErr := os.Stat(s.vectorPath(fixedID))
	assert.True(t, os.IsNotExist(statErr), "payload must be removed when the sidecar cannot be written")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempMarker, "temp file left behind")
	}
	_, err = s.Get(context.Background(), fixedID)
	assert.Error(t, err)
}

func TestFileStore_RecordDeletedMidScanIsSkipped(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()
	ids := make(map[string]bool)
	for i := 0; i < 6; i++ {
		id, err := s.Put(ctx, []float32{1, float32(i)}, models.Metadata{Model: "m"})
		require.NoError(t, err)
		ids[id] = true
	}

	var seen []string
	for rec, err := range s.List(ctx) {
		require.NoError(t, err, "a vanished record must be skipped silently")
		seen = append(seen, rec.ID)
		if len(seen) == 1 {
			// Delete every record not yet visited; the batch already holds their ids.
			for id := range ids {
				if id != rec.ID {
					require.NoError(t, s.Delete(ctx, id))
				}
			}
		}
	}
	assert.Len(t, seen, 1)
}

func TestFileStore_SidecarRemovedMidScanIsSkipped(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		id, err := s.Put(ctx, []float32{1, float32(i)}, models.Metadata{Model: "m"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var seen int
	for rec, err := range s.List(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 1 {
			for _, id := range ids {
				if id != rec.ID {
					require.NoError(t, os.Remove(s.metaPath(id)))
				}
			}
		}
	}
	assert.Equal(t, 1, seen)
}

func TestFileStore_PartialWriteInvisible(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()
	keep, err := s.Put(ctx, []float32{1, 0}, models.Metadata{Model: "m"})
	require.NoError(t, err)

	// Simulate a crash between the payload write and the sidecar write.
	pending, err := s.Put(ctx, []float32{0, 1}, models.Metadata{Model: "m"})
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.metaPath(pending)))

	_, err = s.Get(ctx, pending)
	assert.ErrorIs(t, err, models.ErrNotFound)
	recs := collect(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, keep, recs[0].ID)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFileStore_CorruptRecordsSurfaceInList(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()
	good, err := s.Put(ctx, []float32{1, 0}, models.Metadata{Model: "m"})
	require.NoError(t, err)
	bad, err := s.Put(ctx, []float32{0, 1}, models.Metadata{Model: "m"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.vectorPath(bad), []byte("garbage"), 0644))

	_, err = s.Get(ctx, bad)
	assert.ErrorIs(t, err, models.ErrCorrupt)

	var ids []string
	var corrupt int
	for rec, err := range s.List(ctx) {
		if err != nil {
			require.True(t, models.IsRecordLevel(err), "unexpected error: %v", err)
			corrupt++
			continue
		}
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{good}, ids)
	assert.Equal(t, 1, corrupt)
}

func TestFileStore_DimensionMismatchIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	small, err := NewFileStore(dir, 2)
	require.NoError(t, err)
	id, err := small.Put(context.Background(), []float32{1, 0}, models.Metadata{})
	require.NoError(t, err)

	large, err := NewFileStore(dir, 3)
	require.NoError(t, err)
	_, err = large.Get(context.Background(), id)
	assert.ErrorIs(t, err, models.ErrCorrupt)
}

func TestFileStore_CorruptMetadata(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	id, err := s.Put(context.Background(), []float32{1, 0}, models.Metadata{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.metaPath(id), []byte("{not json"), 0644))
	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, models.ErrCorrupt)
}

func TestFileStore_Sweep(t *testing.T) {
	now := time.Now()
	s, err := NewFileStore(t.TempDir(), 2, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	keep, err := s.Put(ctx, []float32{1, 0}, models.Metadata{})
	require.NoError(t, err)
	orphan, err := s.Put(ctx, []float32{0, 1}, models.Metadata{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.metaPath(orphan)))
	tmp := filepath.Join(s.Dir(), orphan+metaExt+tempMarker+"123")
	require.NoError(t, os.WriteFile(tmp, []byte("{"), 0644))

	// Nothing is old enough yet.
	n, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.vectorPath(orphan), old, old))
	require.NoError(t, os.Chtimes(tmp, old, old))
	require.NoError(t, os.Chtimes(s.vectorPath(keep), old, old))

	n, err = s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, s.vectorPath(orphan))
	assert.NoFileExists(t, tmp)
	assert.FileExists(t, s.vectorPath(keep))
	_, err = s.Get(ctx, keep)
	assert.NoError(t, err)
}

func TestNew_Backends(t *testing.T) {
	dir := t.TempDir()
	s, err := New(config.StorageConfig{Backend: config.BackendFiles, FeaturesDir: filepath.Join(dir, "f"), Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, "files", s.Type())
	assert.Equal(t, 4, s.Dimensions())

	s, err = New(config.StorageConfig{Backend: config.BackendSQLite, DatabasePath: filepath.Join(dir, "db", "f.db"), Dimensions: 4})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite", s.Type())

	_, err = New(config.StorageConfig{Backend: "redis", Dimensions: 4})
	assert.Error(t, err)

	_, err = NewFileStore(dir, 0)
	assert.Error(t, err)
}
