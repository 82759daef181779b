package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"storyd/internal/api"
	"storyd/internal/config"
	"storyd/internal/generate"
	"storyd/internal/ollama"
	"storyd/internal/probe"
	"storyd/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the storyd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running storyd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storyd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "storyd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "storyd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			warnf("storyd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		warnf("storyd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check model server readiness. A down server is reported but not fatal:
	// the connection test endpoint exists precisely to diagnose this at runtime.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if !ollamaClient.IsRunning(ctx) {
		warnf("model server not reachable at %s", cfg.Ollama.BaseURL)
	} else if !ollamaClient.HasModel(ctx, cfg.Ollama.Model) {
		warnf("configured model %q not found on server", cfg.Ollama.Model)
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the generation pipeline and connection tester.
	generator := generate.New(ollamaClient, cfg.Ollama.Model,
		generate.WithMaxAttempts(cfg.Generation.MaxAttempts),
		generate.WithOptions(&ollama.Options{
			Temperature: cfg.Generation.Temperature,
			TopP:        cfg.Generation.TopP,
			NumPredict:  cfg.Generation.NumPredict,
		}),
		generate.WithLogger(slog.Default()),
	)
	prober := probe.New(ollamaClient, probe.WithLogger(slog.Default()))

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Generator: generator,
		Prober:    prober,
		Store:     store,
		Model:     cfg.Ollama.Model,
		ServerURL: cfg.Ollama.BaseURL,
		Token:     cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build MCP server (stdio transport).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Generator: generator,
		Prober:    prober,
		Store:     store,
		Model:     cfg.Ollama.Model,
		ServerURL: cfg.Ollama.BaseURL,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	// Run HTTP and MCP transports until a signal or a fatal transport error.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "storyd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		failf("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		failf("storyd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		failf("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		failf("could not stop storyd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	okf("sent stop signal to storyd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		failf("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		statusLine("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			statusLine("Server", "running on port %d", cfg.Server.Port)
		} else {
			statusLine("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the model server.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	statusCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !ollamaClient.IsRunning(statusCtx) {
		statusLine("Model server", "not running")
	} else {
		statusLine("Model server", "running at %s", cfg.Ollama.BaseURL)
		if ollamaClient.HasModel(statusCtx, cfg.Ollama.Model) {
			statusLine("Model", "%s (available)", cfg.Ollama.Model)
		} else {
			statusLine("Model", "%s (NOT FOUND)", cfg.Ollama.Model)
		}
	}

	statusLine("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
