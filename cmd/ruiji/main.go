// Package main is the ruiji CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/internal/workpool"
	"github.com/hyperjump/ruiji/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ruiji/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ruiji",
		Short: "ruiji - image feature store and similarity search",
		Long: "ruiji extracts embeddings from images, stores them durably, and finds the most similar " +
			"stored images for a query image.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(opts),
		newExtractCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newDeleteCmd(opts),
		newListCmd(opts),
		newSweepCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if neither exists, defaults
// and RUIJI_* environment overrides are used.
// Returns the config and the path that was actually loaded ("" when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := &config.Config{}
			if err := config.ApplyEnv(cfg); err != nil {
				return nil, "", err
			}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// components holds initialized services.
type components struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   storage.FeatureStore
	Adapter embedding.Adapter
	Pool    *workpool.Pool
	Orch    *search.Orchestrator
}

func (c *components) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Adapter != nil {
		_ = c.Adapter.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	_ = c.Logger.Sync()
}

// setup loads config and builds the logger and every service.
func setup(opts *rootOptions) (*components, string, error) {
	cfg, resolvedPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || opts.debug)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create logger: %w", err)
	}
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, "", err
	}
	return c, resolvedPath, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.New(cfg.Storage, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	adapter, err := embedding.NewAdapter(cfg.Embedding, cfg.Storage.Dimensions, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding adapter: %w", err)
	}
	pool := workpool.New(cfg.Workers.Size, workpool.WithLogger(logger))
	index := vector.NewIndex(store, vector.WithLogger(logger))
	orch := search.NewOrchestrator(store, adapter, index, pool, &cfg.Search, search.WithLogger(logger))

	logger.Debug("components initialized",
		zap.String("storage", store.Type()),
		zap.Int("dimensions", store.Dimensions()),
		zap.String("embedding", cfg.Embedding.Backend),
		zap.Int("workers", pool.Size()))

	return &components{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Adapter: adapter,
		Pool:    pool,
		Orch:    orch,
	}, nil
}
