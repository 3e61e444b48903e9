// Package integration provides end-to-end tests over HTTP (requires real storage and a filesystem watcher).
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/hyperjump/ruiji/internal/workpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stack struct {
	url  string
	orch *search.Orchestrator
	dir  string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.DatabasePath = filepath.Join(dir, "features.db")
	cfg.Storage.Dimensions = 16
	cfg.Embedding.Backend = config.EmbeddingMock
	config.ApplyDefaults(cfg)

	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adapter, err := embedding.NewAdapter(cfg.Embedding, cfg.Storage.Dimensions, zap.NewNop())
	require.NoError(t, err)
	pool := workpool.New(2)
	t.Cleanup(pool.Close)
	orch := search.NewOrchestrator(store, adapter, vector.NewIndex(store), pool, &cfg.Search)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := watcher.New(nil, cfg.Watch.Extensions, true, watcher.IngestWith(orch, cfg.Embedding.Model),
		watcher.WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)

	srv := server.NewServer(orch, cfg, zap.NewNop(), w, "")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &stack{url: ts.URL, orch: orch, dir: dir}
}

func upload(t *testing.T, url, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestIntegration_ExtractSearchDelete(t *testing.T) {
	s := newStack(t)

	ids := make(map[string]string)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("img-%d.png", i)
		resp := upload(t, s.url+"/api/vision/extract-features", name, []byte(name), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out models.ExtractResponse
		decode(t, resp, &out)
		assert.True(t, out.Success)
		ids[name] = out.FeatureID
	}

	resp := upload(t, s.url+"/api/vision/search-similar", "query.png", []byte("img-3.png"), map[string]string{"top_k": "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr models.SearchResponse
	decode(t, resp, &sr)
	require.Len(t, sr.Results, 3)
	assert.Equal(t, ids["img-3.png"], sr.Results[0].ID)
	assert.InDelta(t, 1.0, sr.Results[0].Similarity, 1e-4)
	assert.Equal(t, "img-3.png", sr.Results[0].Metadata.SourceReference)
	assert.NotEmpty(t, sr.QueryID)

	// The query itself was stored and is retrievable.
	getResp, err := http.Get(s.url + "/api/vision/features/" + sr.QueryID + "?vector=true")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var feature struct {
		ID         string    `json:"id"`
		Dimensions int       `json:"dimensions"`
		Vector     []float32 `json:"vector"`
	}
	decode(t, getResp, &feature)
	assert.Equal(t, 16, feature.Dimensions)
	assert.Len(t, feature.Vector, 16)

	req, err := http.NewRequest(http.MethodDelete, s.url+"/api/vision/features/"+ids["img-3.png"], nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	resp = upload(t, s.url+"/api/vision/search-similar", "query.png", []byte("img-3.png"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &sr)
	require.NotEmpty(t, sr.Results)
	for _, r := range sr.Results {
		assert.NotEqual(t, ids["img-3.png"], r.ID, "deleted record must not be ranked")
	}
	// The earlier query record holds the same bytes, so it now ranks first.
	assert.InDelta(t, 1.0, sr.Results[0].Similarity, 1e-4)
}

func TestIntegration_WatchDirectoryIngests(t *testing.T) {
	s := newStack(t)
	imageDir := filepath.Join(s.dir, "photos")
	require.NoError(t, os.MkdirAll(imageDir, 0755))

	body, err := json.Marshal(map[string]interface{}{"path": imageDir})
	require.NoError(t, err)
	resp, err := http.Post(s.url+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "cat.jpg"), []byte("a cat"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "readme.txt"), []byte("ignored"), 0644))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := s.orch.Count(ctx)
		return err == nil && n == 1
	}, 5*time.Second, 25*time.Millisecond)

	resp = upload(t, s.url+"/api/vision/search-similar", "q.jpg", []byte("a cat"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr models.SearchResponse
	decode(t, resp, &sr)
	require.Len(t, sr.Results, 1)
	assert.Equal(t, "cat.jpg", sr.Results[0].Metadata.SourceReference)

	statusResp, err := http.Get(s.url + "/api/v1/status")
	require.NoError(t, err)
	var status map[string]interface{}
	decode(t, statusResp, &status)
	assert.Equal(t, float64(2), status["features"])
	assert.Equal(t, config.BackendSQLite, status["storage_type"])
}
