package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/api"
	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/embedding"
	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/index"
	"github.com/kalambet/docchat/internal/ingest"
	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/retrieval"
)

var withMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withMCP, "mcp", false, "expose tools over MCP stdio alongside HTTP")
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docchat version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Ingest.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}

	embedder := embedding.New(cfg.Embedding.BaseURL, embedding.Options{
		Dimension:         cfg.Embedding.Dimension,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	})
	synthesizer := answer.New(cfg.Answer.BaseURL, time.Duration(cfg.Answer.TimeoutSecs)*time.Second)

	vectors, closeIndex, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeIndex(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing index: %v\n", err)
		}
	}()

	reg := registry.New()
	pipeline := ingest.NewPipeline(reg, extract.NewFileExtractor(), embedder, vectors, ingest.Config{
		Collection: cfg.Index.Collection,
		ChunkSize:  cfg.Ingest.ChunkSize,
	})
	retriever := retrieval.NewRetriever(embedder, vectors, cfg.Index.Collection,
		cfg.Retrieval.TopK, float32(cfg.Retrieval.MinScore))

	handler := api.NewHandler(api.Deps{
		Registry:    reg,
		Processor:   pipeline,
		Retriever:   retriever,
		Synthesizer: synthesizer,
		UploadDir:   cfg.Ingest.UploadDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Registry:    reg,
			Retriever:   retriever,
			Synthesizer: synthesizer,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("docchat listening", "addr", addr, "index", cfg.Index.Backend)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

// openIndex builds the configured vector index backend. The returned close
// function is a no-op for backends without resources to release.
func openIndex(cfg config.Config) (index.Index, func() error, error) {
	switch cfg.Index.Backend {
	case "qdrant":
		q := index.NewQdrant(cfg.Index.Qdrant.URL, cfg.Index.Qdrant.APIKey,
			time.Duration(cfg.Index.Qdrant.TimeoutSecs)*time.Second)
		return q, func() error { return nil }, nil
	case "sqlite", "":
		s, err := index.OpenSQLite(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening index: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
