package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentcapture/internal/api"
	"github.com/Lllllllleong/documentcapture/internal/app"
	"github.com/Lllllllleong/documentcapture/internal/config"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/observability/logging"
)

const functionTarget = "DocumentCapture"

var (
	router  http.Handler
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(logging.NewJSONLogger("docscan-server", gcp.GetEnv("LOG_LEVEL", "info")))

	// Register the HTTP function with the framework.
	functions.HTTP(functionTarget, documentCapture)
}

// main starts the framework locally or on Cloud Run.
func main() {
	if os.Getenv("FUNCTION_TARGET") == "" {
		os.Setenv("FUNCTION_TARGET", functionTarget)
	}
	port := gcp.GetEnv("PORT", "8080")
	slog.Info("Starting document capture server.", "port", port)
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// documentCapture routes every request through the API router.
func documentCapture(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		router, initErr = newRouter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, "docscan-server")
	if err != nil {
		return nil, err
	}
	if n, err := a.RestoreUploads(ctx); err != nil {
		slog.Warn("Could not restore stored uploads.", "error", err)
	} else if n > 0 {
		slog.Info("Restored stored uploads.", "count", n)
	}
	server := api.NewServer(a.Registry, a.Conversation, a.Exporter, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        a.Metrics,
	})
	return server.Router(), nil
}
