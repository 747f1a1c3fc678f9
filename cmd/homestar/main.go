// Command homestar runs a node of the Homestar deterministic,
// content-addressed execution runtime for UCAN-Invocation workflows.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/homestar-labs/homestar/api"
	"github.com/homestar-labs/homestar/config"
	"github.com/homestar-labs/homestar/receipt"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "homestar",
		Short:   "Deterministic, content-addressed execution runtime for UCAN-Invocation workflows",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newRunCmd(&configPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the node's structured logger. Its level follows
// cfg.Telemetry.LogLevel once a config is loaded; config loading itself
// uses a quiet logger so loader diagnostics don't spam stdout.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func logLevel(cfg *config.Config) slog.Level {
	switch cfg.Telemetry.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	loader := config.NewLoader(newLogger(slog.LevelWarn))
	return loader.Load(configPath)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start a node and accept workflows over the admission API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(logLevel(cfg))
			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize node: %w", err)
			}
			defer app.Shutdown(30 * time.Second)

			if err := app.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start node: %w", err)
			}

			logger.Info("homestar node listening", "addr", cfg.API.Addr, "metrics_addr", cfg.Telemetry.MetricsAddr)
			<-cmd.Context().Done()
			logger.Info("shutting down")
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Admit a workflow document, run it to completion, and print its receipts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			app, err := NewApp(cfg, newLogger(logLevel(cfg)))
			if err != nil {
				return fmt.Errorf("initialize node: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			receipts, err := app.RunWorkflowFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run workflow: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, r := range receipts {
				if err := enc.Encode(receiptSummary(r)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// receiptSummary renders a Receipt in a human-friendly shape for the "run"
// command's stdout output; the wire-accurate DAG-CBOR form is what the
// admission API and pub/sub actually exchange.
func receiptSummary(r receipt.Receipt) map[string]any {
	outTag := "ok"
	if !r.Out.IsOk() {
		outTag = "error"
	}
	return map[string]any{
		"ran":      r.Ran.String(),
		"out":      outTag,
		"value":    api.NodeToJSON(r.Out.Value),
		"replayed": r.Replayed(),
	}
}
