package config

import "time"

// Storage backend names.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
)

// Embedding backend names.
const (
	EmbeddingONNX = "onnx"
	EmbeddingMock = "mock"
)

// ImageExtensions are the upload and watch extensions accepted by default.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFiles
	}
	if cfg.Storage.FeaturesDir == "" {
		cfg.Storage.FeaturesDir = "/usr/local/var/ruiji/data/features"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/ruiji/data/db/features.db"
	}
	if cfg.Storage.Dimensions == 0 {
		cfg.Storage.Dimensions = 512
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = EmbeddingONNX
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "clip"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/ruiji/data/models/clip-vit-base-patch32-vision.onnx"
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "pixel_values"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "image_embeds"
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 256
	}
	if cfg.Search.DefaultTopK <= 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK <= 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Workers.Size == 0 {
		cfg.Workers.Size = 4
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), ImageExtensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
