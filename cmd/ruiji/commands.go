package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sweepAge is how old a partial artifact must be before the server removes it at startup.
const sweepAge = time.Hour

func newServerCmd(opts *rootOptions) *cobra.Command {
	var syncExisting bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server and the directory watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, resolvedPath, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			logger := c.Logger
			cfg := c.Config
			logger.Info("config loaded", zap.String("config_path", resolvedPath), zap.Bool("debug", cfg.Debug || opts.debug))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if n, err := c.Store.Sweep(ctx, sweepAge); err != nil {
				logger.Warn("startup sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("removed partial artifacts", zap.Int("count", n))
			}

			watchSvc := watcher.New(
				cfg.Watch.Directories,
				cfg.Watch.Extensions,
				cfg.Watch.RecursiveOrDefault(),
				watcher.IngestWith(c.Orch, cfg.Embedding.Model),
				watcher.WithLogger(logger),
				watcher.WithConcurrency(cfg.Workers.Size),
			)
			if err := watchSvc.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer watchSvc.Stop()
			if syncExisting {
				go func() {
					if err := watchSvc.SyncExisting(ctx); err != nil {
						logger.Warn("initial sync failed", zap.Error(err))
					}
				}()
			}

			srv := server.NewServer(c.Orch, cfg, logger, watchSvc, resolvedPath)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}
			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&syncExisting, "sync-existing", false, "ingest images already in watched directories (stores new records on every run)")
	return cmd
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var model, output string
	cmd := &cobra.Command{
		Use:   "extract <image>...",
		Short: "Extract and store features for one or more images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			if model == "" {
				model = c.Config.Embedding.Model
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				resp, err := c.Orch.ExtractFeatures(cmd.Context(), models.Image{Data: data, Filename: path}, model)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if format == cli.OutputJSON {
					if err := json.NewEncoder(out).Encode(resp); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "Stored %s as %s\n", path, resp.FeatureID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "embedding model (default from config)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		model, output, serverURL string
		topK                     int
	)
	cmd := &cobra.Command{
		Use:   "search <image>",
		Short: "Find stored images similar to an image",
		Long: "Search embeds the query image, stores it as a new record, and ranks every other " +
			"stored record by cosine similarity.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				response, err := searchViaHTTP(serverURL, args[0], model, topK)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
			}

			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			response, err := c.Orch.SearchSimilar(cmd.Context(), models.Image{Data: data, Filename: args[0]}, model, topK)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "embedding model (default from config)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL, e.g. http://localhost:8080 (empty = use storage directly)")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a stored feature record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			rec, err := c.Orch.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteRecord(cmd.OutOrStdout(), rec, format)
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored feature records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			for _, id := range args {
				if err := c.Orch.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deletion failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feature deleted: %s\n", id)
			}
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored feature records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()

			n := 0
			for rec, err := range c.Store.List(cmd.Context()) {
				if err != nil {
					if models.IsRecordLevel(err) {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping: %v\n", err)
						continue
					}
					return err
				}
				if err := cli.WriteRecordLine(cmd.OutOrStdout(), rec, format); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to list (0 = all)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json (one object per line)")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove partial artifacts left by interrupted writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := setup(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Store.Sweep(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d partial artifact(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", sweepAge, "only remove artifacts older than this")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			var status map[string]interface{}
			if serverURL != "" {
				status, err = statusViaHTTP(serverURL)
				if err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
			} else {
				status, err = localStatus(cmd.Context(), opts)
				if err != nil {
					return err
				}
			}
			return cli.WriteValue(cmd.OutOrStdout(), status, format)
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = use storage directly)")
	return cmd
}

func localStatus(ctx context.Context, opts *rootOptions) (map[string]interface{}, error) {
	c, _, err := setup(opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	count, err := c.Orch.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count features failed: %w", err)
	}
	path := c.Config.Storage.FeaturesDir
	if c.Store.Type() == config.BackendSQLite {
		path = c.Config.Storage.DatabasePath
	}
	status := map[string]interface{}{
		"features":     count,
		"storage_type": c.Store.Type(),
		"storage_path": path,
		"dimensions":   c.Store.Dimensions(),
	}
	if diskBytes, err := storage.DiskUsageBytes(path); err == nil {
		status["disk_usage_bytes"] = diskBytes
	}
	return status, nil
}

func newWatchCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage directories watched by a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")

	var syncExisting bool
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a directory to watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := watchAdd(serverURL, args[0], syncExisting)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
			return nil
		},
	}
	add.Flags().BoolVar(&syncExisting, "sync", false, "also ingest images already in the directory")

	remove := &cobra.Command{
		Use:   "remove <path>",
		Short: "Stop watching a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := watchRemove(serverURL, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := watchList(serverURL)
			if err != nil {
				return err
			}
			for _, d := range dirs {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.AddCommand(add, remove, list)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ruiji version %s\n", version)
		},
	}
}
