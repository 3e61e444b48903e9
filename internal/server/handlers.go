package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"go.uber.org/zap"
)

// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

var errMissingFile = errors.New("file is required")

// readUpload reads the multipart "file" field, enforcing the upload size limit and the image
// extension whitelist.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (models.Image, int, error) {
	if limit := s.config.Server.MaxUploadBytes; limit > 0 {
		if r.ContentLength > limit {
			return models.Image{}, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit)
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.Image{}, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return models.Image{}, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return models.Image{}, http.StatusBadRequest, errMissingFile
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(config.ImageExtensions, ext) {
		return models.Image{}, http.StatusBadRequest,
			fmt.Errorf("unsupported file type, use: %s", strings.Join(config.ImageExtensions, ", "))
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return models.Image{}, http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	return models.Image{Data: data, Filename: header.Filename}, http.StatusOK, nil
}

func (s *Server) requestedModel(r *http.Request) string {
	if m := r.FormValue("model"); m != "" {
		return m
	}
	return s.config.Embedding.Model
}

func (s *Server) handleExtractFeatures(w http.ResponseWriter, r *http.Request) {
	img, status, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	model := s.requestedModel(r)
	s.logger.Debug("extract features request", zap.String("file", img.Filename), zap.String("model", model))
	resp, err := s.orch.ExtractFeatures(r.Context(), img, model)
	if err != nil {
		s.fail(w, "extract features", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	img, status, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	topK := s.config.Search.DefaultTopK
	if v := r.FormValue("top_k"); v != "" {
		topK, err = strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
	}
	model := s.requestedModel(r)
	s.logger.Debug("search similar request",
		zap.String("file", img.Filename), zap.String("model", model), zap.Int("top_k", topK))
	resp, err := s.orch.SearchSimilar(r.Context(), img, model, topK)
	if err != nil {
		s.fail(w, "search similar", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type featureResponse struct {
	ID         string          `json:"id"`
	Dimensions int             `json:"dimensions"`
	Metadata   models.Metadata `json:"metadata"`
	Vector     []float32       `json:"vector,omitempty"`
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.orch.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "get feature", err)
		return
	}
	resp := featureResponse{ID: rec.ID, Dimensions: len(rec.Vector), Metadata: rec.Metadata}
	if r.URL.Query().Get("vector") == "true" {
		resp.Vector = rec.Vector
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete feature request", zap.String("id", id))
	if err := s.orch.Delete(r.Context(), id); err != nil {
		s.fail(w, "delete feature", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.orch.Models()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.orch.Count(r.Context())
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	store := s.orch.Store()
	resp := map[string]interface{}{
		"features":      count,
		"storage_type":  store.Type(),
		"dimensions":    store.Dimensions(),
		"default_model": s.config.Embedding.Model,
	}

	storagePath := s.config.Storage.FeaturesDir
	if store.Type() == config.BackendSQLite {
		storagePath = s.config.Storage.DatabasePath
	}
	configInfo := map[string]interface{}{
		"storage_path":    storagePath,
		"embedding":       s.config.Embedding.Backend,
		"default_top_k":   s.config.Search.DefaultTopK,
		"max_top_k":       s.config.Search.MaxTopK,
		"workers":         s.config.Workers.Size,
		"max_upload_size": s.config.Server.MaxUploadBytes,
	}
	if diskBytes, err := storage.DiskUsageBytes(storagePath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	if s.watch != nil {
		configInfo["watch_directories"] = s.watch.Directories()
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	// Each sync stores new records, so it is opt-in.
	syncExisting := req.Sync != nil && *req.Sync
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.String("kind", models.KindOf(err).String()), zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
