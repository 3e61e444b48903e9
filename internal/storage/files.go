package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

const (
	vectorExt  = ".vec"
	metaExt    = ".json"
	tempMarker = ".tmp-"

	// listBatchSize bounds how many directory entries are held in memory at once.
	listBatchSize = 256
)

// FileStore implements FeatureStore with two files per record in one directory:
// <id>.vec holds the compressed vector payload and <id>.json the metadata sidecar.
// The payload is written first and the sidecar last; a payload without a sidecar is
// pending and invisible to readers.
type FileStore struct {
	dir    string
	dims   int
	logger *zap.Logger
	now    func() time.Time
}

// NewFileStore opens a file-backed store rooted at dir, creating the directory if needed.
func NewFileStore(dir string, dimensions int, opts ...Option) (*FileStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir == "" {
		return nil, fmt.Errorf("features directory must be set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create features directory: %w", err)
	}
	o := buildOptions(opts)
	return &FileStore{dir: dir, dims: dimensions, logger: o.logger, now: o.now}, nil
}

// Dir returns the storage root.
func (s *FileStore) Dir() string { return s.dir }

// Dimensions returns the fixed vector length of the store.
func (s *FileStore) Dimensions() int { return s.dims }

// Type returns the backend identifier.
func (s *FileStore) Type() string { return "files" }

// Close is a no-op for FileStore.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) vectorPath(id string) string { return filepath.Join(s.dir, id+vectorExt) }
func (s *FileStore) metaPath(id string) string   { return filepath.Join(s.dir, id+metaExt) }

// Put persists a normalized copy of vector. The context is only checked before writing
// starts; once the payload is on disk the sidecar is always attempted.
func (s *FileStore) Put(ctx context.Context, vector []float32, meta models.Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	unit, err := prepare(vector, s.dims)
	if err != nil {
		return "", err
	}
	id := newID()
	meta = stamp(meta, id, s.now)

	payload, err := EncodeVector(unit)
	if err != nil {
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, err)
	}
	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, err)
	}
	if err := writeFileAtomic(s.vectorPath(id), payload, 0644); err != nil {
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, fmt.Errorf("write vector: %w", err))
	}
	if err := writeFileAtomic(s.metaPath(id), sidecar, 0644); err != nil {
		if rmErr := os.Remove(s.vectorPath(id)); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove orphaned vector payload", zap.String("id", id), zap.Error(rmErr))
		}
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, fmt.Errorf("write metadata: %w", err))
	}
	s.logger.Debug("feature stored", zap.String("id", id), zap.String("model", meta.Model))
	return id, nil
}

// Get returns the record for id.
func (s *FileStore) Get(ctx context.Context, id string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, models.NewError(models.KindNotFound, "get", id, nil)
	}
	return s.load("get", id)
}

// load reads the sidecar first: without it the record does not exist yet.
func (s *FileStore) load(op, id string) (*models.Record, error) {
	rawMeta, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError(models.KindNotFound, op, id, nil)
		}
		return nil, fmt.Errorf("read metadata %s: %w", id, err)
	}
	var meta models.Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, models.NewError(models.KindCorrupt, op, id, fmt.Errorf("parse metadata: %w", err))
	}
	if meta.ID != id {
		return nil, models.NewError(models.KindCorrupt, op, id, fmt.Errorf("metadata id %q does not match", meta.ID))
	}
	payload, err := os.ReadFile(s.vectorPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError(models.KindNotFound, op, id, nil)
		}
		return nil, fmt.Errorf("read vector %s: %w", id, err)
	}
	vec, err := decodeChecked(op, id, payload, s.dims)
	if err != nil {
		return nil, err
	}
	return &models.Record{ID: id, Vector: vec, Metadata: meta}, nil
}

// List streams complete records in directory order. Pending and vanished records are skipped
// silently; corrupt ones are yielded as record-level errors.
func (s *FileStore) List(ctx context.Context) iter.Seq2[*models.Record, error] {
	return func(yield func(*models.Record, error) bool) {
		for id, err := range s.scanIDs(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, err := s.load("list", id)
			if err != nil {
				if models.KindOf(err) == models.KindNotFound {
					continue
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// scanIDs streams the ids of every vector payload in the directory, in batches. It does not
// check for the sidecar.
func (s *FileStore) scanIDs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dir, err := os.Open(s.dir)
		if err != nil {
			yield("", models.NewError(models.KindStoreWriteFailed, "list", "", fmt.Errorf("open features directory: %w", err)))
			return
		}
		defer dir.Close()
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			entries, readErr := dir.ReadDir(listBatchSize)
			for _, e := range entries {
				id, ok := payloadID(e.Name())
				if !ok || e.IsDir() {
					continue
				}
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
				if !yield(id, nil) {
					return
				}
			}
			if errors.Is(readErr, io.EOF) {
				return
			}
			if readErr != nil {
				yield("", models.NewError(models.KindStoreWriteFailed, "list", "", fmt.Errorf("read features directory: %w", readErr)))
				return
			}
		}
	}
}

// payloadID returns the id for a "<id>.vec" file name.
func payloadID(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, vectorExt)
	if !ok || !validID(id) {
		return "", false
	}
	return id, true
}

// Delete removes the sidecar first, which hides the record atomically, then the payload.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return nil
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.NewError(models.KindStoreWriteFailed, "delete", id, err)
	}
	if err := os.Remove(s.vectorPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.NewError(models.KindStoreWriteFailed, "delete", id, err)
	}
	s.logger.Debug("feature deleted", zap.String("id", id))
	return nil
}

// Count returns the number of payloads that have a sidecar.
func (s *FileStore) Count(ctx context.Context) (int64, error) {
	var n int64
	for id, err := range s.scanIDs(ctx) {
		if err != nil {
			return 0, err
		}
		if _, err := os.Stat(s.metaPath(id)); err == nil {
			n++
		}
	}
	return n, nil
}

// Sweep removes temp files and sidecar-less payloads whose modification time is older than
// olderThan. The age guard keeps writes that are still in flight out of reach.
func (s *FileStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	dir, err := os.Open(s.dir)
	if err != nil {
		return 0, models.NewError(models.KindStoreWriteFailed, "sweep", "", err)
	}
	defer dir.Close()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		entries, readErr := dir.ReadDir(listBatchSize)
		for _, e := range entries {
			if e.IsDir() || !s.isGarbage(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, models.NewError(models.KindStoreWriteFailed, "sweep", "", err)
			}
			removed++
			s.logger.Debug("swept partial artifact", zap.String("name", e.Name()))
		}
		if errors.Is(readErr, io.EOF) {
			return removed, nil
		}
		if readErr != nil {
			return removed, models.NewError(models.KindStoreWriteFailed, "sweep", "", readErr)
		}
	}
}

func (s *FileStore) isGarbage(name string) bool {
	if strings.Contains(name, tempMarker) {
		return true
	}
	id, ok := payloadID(name)
	if !ok {
		return false
	}
	_, err := os.Stat(s.metaPath(id))
	return errors.Is(err, fs.ErrNotExist)
}
