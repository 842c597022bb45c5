package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kalambet/bugtriage/internal/api"
	"github.com/kalambet/bugtriage/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP suggestion service (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve suggestion tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "bugtriage version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.warmUp(ctx)

	handler := api.NewHandler(api.Deps{
		Suggester:   a.suggester,
		Similarity:  a.similarity,
		Triages:     a.store,
		Writer:      a.writer,
		Metrics:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		CORSOrigins: cfg.Server.Origins(),
		Logger:      logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "llm_configured", a.suggester.Configured())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the MCP tools on stdio. stdout carries the protocol, so
// logs go to stderr.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.warmUp(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Suggester:  a.suggester,
		Similarity: a.similarity,
		Triages:    a.store,
		Version:    version,
	})
	logger.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health api.HealthResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		switch {
		case resp.StatusCode != http.StatusOK:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case decodeErr != nil:
			printStatus("Server", "running on port %d (unreadable health)", cfg.Server.Port)
		default:
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("LLM configured", "%t", health.LLMConfigured)
			printStatus("Similarity store", "%s", health.SimilarityStore)
			printStatus("Triages", "%d (schema v%d)", health.TriageCount, health.SchemaVersion)
		}
	}

	printStatus("LLM", "%s (%s)", cfg.LLM.Model, cfg.LLM.Provider)
	printStatus("Embeddings", "%s (%s)", cfg.Embedding.Model, cfg.Embedding.Provider)
	if !cfg.HasLLMCredential() {
		printWarning("no credential for llm provider %s", cfg.LLM.Provider)
	}

	if st := ollamaStatus(context.Background(), cfg); st != "" {
		printStatus("Ollama", "%s", st)
	}

	if cfg.Cache.RedisURL != "" {
		printStatus("Cache", "redis (ttl %s)", cfg.Cache.TTL)
	} else {
		printStatus("Cache", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
