package main

import (
	"context"
	"encoding/json"
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

	"github.com/marindock/shipmate/internal/api"
	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/composer"
	"github.com/marindock/shipmate/internal/config"
	"github.com/marindock/shipmate/internal/dialogue"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/fallback"
	"github.com/marindock/shipmate/internal/ingest"
	"github.com/marindock/shipmate/internal/pipeline"
	"github.com/marindock/shipmate/internal/reranking"
	"github.com/marindock/shipmate/internal/retrieval"
	"github.com/marindock/shipmate/internal/storage"
	"github.com/marindock/shipmate/internal/websearch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shipmate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shipmate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shipmate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "shipmate.pid")
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
	fmt.Fprintf(os.Stderr, "shipmate version %s\n", version)

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

	// Ensure the management API token exists in the platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("management API bearer token available")

	// Write PID file. Check if the server is already running via the
	// health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("shipmate is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("shipmate is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Detect the local inference engine. The server still starts when none
	// is reachable so /status can report the problem; chat stays 503 until
	// an engine appears and the knowledge base is loaded.
	engineReady := true
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		OpenAICompatURL: cfg.Engine.OpenAICompatURL,
	})
	if err != nil {
		slog.Error("no inference engine detected, assistant will be unavailable", "error", err)
		engineReady = false
		eng = engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	} else if err := engine.EnsureReady(ctx, eng, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
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

	// Build the retrieval and answer pipeline.
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	handle := catalog.NewHandle()
	reranker := reranking.NewReranker(cfg.Retrieval.RerankingEnabled)
	comp := composer.New(0)
	answerer := pipeline.NewAnswerer(retriever, reranker, comp, eng, cfg.Ollama.ChatModel, cfg.Retrieval.TopK)

	// Web search fallback. A missing Tavily key is not an error: the
	// orchestrator reports itself disabled and answers say so.
	var searcher fallback.Searcher
	if cfg.WebSearchEnabled() {
		searcher = websearch.NewClient(cfg.Search.TavilyAPIKey, cfg.Search.MaxResults)
	}
	fb := fallback.New(searcher, eng, cfg.Ollama.ChatModel)
	fb.SetMaxChars(cfg.Search.ResultMaxChars)
	if fb.Enabled() {
		slog.Info("web search fallback enabled", "max_results", cfg.Search.MaxResults)
	} else {
		slog.Info("web search disabled, no Tavily API key configured")
	}

	assistant := dialogue.NewEngine(handle, answerer, fb)
	manager := pipeline.NewManager(eng, embedder, vectorStore, store, handle, cfg.CatalogPath())

	// Pick up the knowledge base left behind by a previous run.
	if restored, err := manager.Restore(); err != nil {
		slog.Warn("restoring knowledge base", "error", err)
	} else if restored {
		st := manager.Status()
		slog.Info("knowledge base ready", "problems", st.Problems, "chunks", st.Chunks)
	}

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:            store,
		Assistant:        assistant,
		KB:               manager,
		Token:            apiToken,
		EngineReady:      engineReady,
		WebSearchEnabled: fb.Enabled(),
		TavilyKeySet:     cfg.WebSearchEnabled(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the manual indexing worker.
	worker := ingest.NewWorker(store, embedder, vectorStore, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start the MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:            store,
		Assistant:        assistant,
		KB:               manager,
		Searcher:         retriever,
		Catalog:          handle,
		EngineReady:      engineReady,
		WebSearchEnabled: fb.Enabled(),
		TavilyKeySet:     cfg.WebSearchEnabled(),
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start the HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shipmate listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("shipmate is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop shipmate (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to shipmate (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	// Show models.
	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show assistant readiness and counts if the server is running.
	if resp != nil && resp.StatusCode == 200 {
		stResp, stErr := client.Get(serverURL + "/status")
		if stErr == nil {
			var st struct {
				Status           string `json:"status"`
				KBLoaded         bool   `json:"kb_loaded"`
				WebSearchEnabled bool   `json:"web_search_enabled"`
			}
			if json.NewDecoder(stResp.Body).Decode(&st) == nil {
				printStatus("Assistant", "%s", st.Status)
				if st.WebSearchEnabled {
					printStatus("Web search", "enabled")
				} else {
					printStatus("Web search", "disabled")
				}
			}
			stResp.Body.Close()
		}

		apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
		if tokenErr == nil {
			manResp, err := apiGet(client, serverURL+"/manuals?limit=100", apiToken)
			if err == nil {
				var manuals []json.RawMessage
				if json.NewDecoder(manResp.Body).Decode(&manuals) == nil {
					printStatus("Manuals", "%s", countLabel(len(manuals), 100))
				}
				manResp.Body.Close()
			}
			interResp, err2 := apiGet(client, serverURL+"/interactions?limit=100", apiToken)
			if err2 == nil {
				var interactions []json.RawMessage
				if json.NewDecoder(interResp.Body).Decode(&interactions) == nil {
					printStatus("Interactions", "%s", countLabel(len(interactions), 100))
				}
				interResp.Body.Close()
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
