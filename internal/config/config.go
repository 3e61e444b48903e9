// Package config provides configuration loading and structs for the ruiji server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RUIJI"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Workers   WorkersConfig   `yaml:"workers"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds ingestion directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories" envconfig:"DIRECTORIES"`
	Extensions  []string `yaml:"extensions" envconfig:"EXTENSIONS"`
	Recursive   *bool    `yaml:"recursive" envconfig:"RECURSIVE"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" envconfig:"HOST"`
	Port           int           `yaml:"port" envconfig:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// StorageConfig selects the feature store backend and where it keeps its data.
type StorageConfig struct {
	// Backend is "files" (one payload + sidecar per record) or "sqlite".
	Backend      string `yaml:"backend" envconfig:"BACKEND"`
	FeaturesDir  string `yaml:"features_dir" envconfig:"FEATURES_DIR"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH"`
	// Dimensions is the fixed vector length D for the store.
	Dimensions int `yaml:"dimensions" envconfig:"DIMENSIONS"`
}

// EmbeddingConfig holds image embedding adapter settings.
type EmbeddingConfig struct {
	// Backend is "onnx" (falls back to mock when the model cannot be loaded) or "mock".
	Backend    string `yaml:"backend" envconfig:"BACKEND"`
	Model      string `yaml:"model" envconfig:"MODEL"`
	ModelPath  string `yaml:"model_path" envconfig:"MODEL_PATH"`
	InputName  string `yaml:"input_name" envconfig:"INPUT_NAME"`
	OutputName string `yaml:"output_name" envconfig:"OUTPUT_NAME"`
	ImageSize  int    `yaml:"image_size" envconfig:"IMAGE_SIZE"`
	CacheSize  int    `yaml:"cache_size" envconfig:"CACHE_SIZE"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k" envconfig:"DEFAULT_TOP_K"`
	MaxTopK     int `yaml:"max_top_k" envconfig:"MAX_TOP_K"`
}

// WorkersConfig sizes the pool that runs blocking storage and inference work.
type WorkersConfig struct {
	Size int `yaml:"size" envconfig:"SIZE"`
}

// Load reads and parses the config file at path, applies RUIJI_* environment overrides,
// expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.FeaturesDir = expandPath(cfg.Storage.FeaturesDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// ApplyEnv overrides cfg with RUIJI_<SECTION>_<KEY> environment variables, e.g.
// RUIJI_STORAGE_BACKEND=sqlite or RUIJI_SERVER_PORT=9000. Unset variables leave cfg unchanged.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target interface{}
	}{
		{envPrefix + "_SERVER", &cfg.Server},
		{envPrefix + "_STORAGE", &cfg.Storage},
		{envPrefix + "_EMBEDDING", &cfg.Embedding},
		{envPrefix + "_SEARCH", &cfg.Search},
		{envPrefix + "_WORKERS", &cfg.Workers},
		{envPrefix + "_WATCH", &cfg.Watch},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return err
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "_DEBUG"); ok {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
