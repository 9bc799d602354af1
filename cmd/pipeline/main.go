// Package main provides the pipeline binary entry point.
// Pipeline is a deterministic execution engine that tracks runs,
// workstreams, and tasks through explicit state machines and routes
// jobs to registered tool adapters behind per-tool circuit breakers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DICKY1987/pipeline-core/config"
	"github.com/DICKY1987/pipeline-core/job"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "pipeline"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Deterministic pipeline execution engine",
		Long: `Pipeline tracks runs, workstreams, and tasks through explicit
state machines, persists every transition to a NATS-backed state
store, and executes jobs through registered tool adapters guarded
by per-tool circuit breakers.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(submitCmd(&configPath, &logLevel))
	cmd.AddCommand(statusCmd(&configPath, &logLevel))
	cmd.AddCommand(toolsCmd(&configPath, &logLevel))
	cmd.AddCommand(configCmd(&logLevel))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, watching the job spool and serving metrics",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, logger)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			group, groupCtx := errgroup.WithContext(ctx)

			if app.watcher != nil {
				if err := app.watcher.Start(groupCtx); err != nil {
					return fmt.Errorf("start spool watcher: %w", err)
				}
			}

			srv := &http.Server{
				Addr: metricsAddr,
				Handler: promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{
					Registry: app.registry,
				}),
			}
			group.Go(func() error {
				logger.Info("Metrics server listening", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			group.Go(func() error {
				<-groupCtx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			})

			logger.Info("Pipeline engine ready", "version", Version)

			if err := group.Wait(); err != nil && err != context.Canceled {
				return err
			}
			logger.Info("Pipeline engine shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")

	return cmd
}

func submitCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <descriptor.json>",
		Short: "Execute a single job from a descriptor file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read job descriptor: %w", err)
			}
			var j job.Job
			if err := json.Unmarshal(data, &j); err != nil {
				return fmt.Errorf("parse job descriptor: %w", err)
			}
			if err := j.Validate(); err != nil {
				return fmt.Errorf("invalid job descriptor: %w", err)
			}

			ctx := cmd.Context()
			app := NewApp(cfg, logger)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			result := app.orch.RunJob(ctx, &j)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}

			if !result.Success {
				return fmt.Errorf("job %s failed with exit code %d", j.ID, result.ExitCode)
			}
			return nil
		},
	}
}

func statusCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the stored status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app := NewApp(cfg, logger)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			status, err := app.orch.JobStatus(ctx, args[0])
			if err != nil {
				return fmt.Errorf("look up job %s: %w", args[0], err)
			}
			fmt.Println(status)
			return nil
		},
	}
}

func toolsCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tool adapters",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			for _, tool := range cfg.Tools.Registered {
				fmt.Println(tool)
			}
			return nil
		},
	}
}

func configCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage engine configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default user config if none exists",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := setupLogger(*logLevel)
			return config.NewLoader(logger).EnsureUserConfig()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := config.NewLoader(logger).Load()
			if err != nil {
				return err
			}
			return cfg.SaveToWriter(os.Stdout)
		},
	})

	return cmd
}

func setupLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}
