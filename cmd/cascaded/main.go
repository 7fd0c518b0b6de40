// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// cascaded is the cascade workflow engine daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/cascade/internal/config"
	"github.com/tombee/cascade/internal/log"
	"github.com/tombee/cascade/internal/metrics"
	"github.com/tombee/cascade/internal/server"
	sqlitestore "github.com/tombee/cascade/internal/store"
	"github.com/tombee/cascade/pkg/llm"
	"github.com/tombee/cascade/pkg/llm/pricing"
	"github.com/tombee/cascade/pkg/pipeline"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cascaded",
		Short:         "cascade workflow engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cascaded %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	var store pipeline.Store
	if cfg.Store.Path != "" {
		sqlite, err := sqlitestore.New(sqlitestore.Config{
			Path: cfg.Store.Path,
			WAL:  cfg.Store.WALEnabled(),
		})
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
		logger.Info("using sqlite store", slog.String("path", cfg.Store.Path))
	} else {
		store = pipeline.NewMemoryStore()
		logger.Warn("no store path configured, state will not survive restarts")
	}

	table, err := pricing.NewTableFromFile(cfg.LLM.PricingFile)
	if err != nil {
		return err
	}

	invoker, err := llm.NewOpenAIInvoker(llm.OpenAIConfig{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		RequestTimeout:    cfg.LLM.RequestTimeout,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return err
	}
	invoker.WithLogger(logger)
	logger.Info("llm provider configured",
		slog.String("base_url", cfg.LLM.BaseURL),
		slog.String("api_key", log.SanitizeAPIKey(cfg.LLM.APIKey)))

	registry := llm.DefaultRegistry()
	sink := metrics.NewEngine()
	evaluator := pipeline.NewEvaluator(invoker, cfg.LLM.DefaultModel).WithLogger(logger)
	runner := pipeline.NewRunner(invoker, registry, table, evaluator, store).
		WithLogger(logger).
		WithMetrics(sink)
	orchestrator := pipeline.NewOrchestrator(store, runner).
		WithLogger(logger).
		WithMetrics(sink)

	api := server.New(store, orchestrator, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := api.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", log.Error(err))
	}

	// Let in-flight executions reach a terminal state before the
	// store goes away.
	orchestrator.Wait()
	return nil
}
