package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentcapture/internal/config"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/Lllllllleong/documentcapture/internal/resilience"
	"github.com/Lllllllleong/documentcapture/internal/services"
	"github.com/Lllllllleong/documentcapture/internal/store"
	"golang.org/x/time/rate"
)

// App holds the clients and services shared by the entry points.
type App struct {
	Config       config.Config
	Metrics      *metrics.CaptureMetrics
	Storage      *storage.Client
	Extractor    *services.GeminiExtractor
	Conversation *services.Conversation
	Exporter     *services.Exporter
	Registry     *services.Registry
	Store        store.Store

	vertex    *gcp.VertexClient
	workflows *gcp.WorkflowTrigger
	mirror    *store.Mirror
	chat      *services.GeminiChat
}

// New builds every client named by cfg. The long-lived Registry starts empty;
// entry points that serve it call RestoreUploads.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.NewCaptureMetrics(service)}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(ctx); closeErr != nil {
			slog.Warn("Failed to release clients after init error.", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, gcp.VertexOptions{
		ExtractionModel: cfg.ExtractionModel,
		ChatModel:       cfg.ChatModel,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}
	a.vertex = vertex

	if cfg.StagingBucket != "" || cfg.ExportBucket != "" {
		a.Storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerFailureRatio: cfg.BreakerFailureRatio,
	})

	opts := services.ExtractionOptions{
		InlineLimitBytes: cfg.InlineLimitBytes,
		Timeout:          cfg.ExtractionTimeout,
		Metrics:          a.Metrics,
	}
	if cfg.StagingBucket != "" {
		opts.Stager = services.NewGCSStager(a.Storage, cfg.StagingBucket)
	}
	a.Extractor, err = services.NewGeminiExtractor(vertex.ExtractionModel, executor, opts)
	if err != nil {
		return err
	}
	a.chat = services.NewGeminiChat(vertex, executor, rate.NewLimiter(rate.Limit(cfg.ChatRatePerSecond), cfg.ChatBurst), a.Metrics)

	switch {
	case cfg.FirestoreEnabled:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.Store = store.NewFirestoreStore(client, cfg.FirestoreCollection)
	case cfg.SQLitePath != "":
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = s
	}
	if a.Store != nil {
		a.mirror = store.NewMirror(a.Store)
	}

	if cfg.WorkflowID != "" {
		a.workflows, err = gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return err
		}
	}

	a.Registry = a.NewRegistry()
	a.Conversation = services.NewConversation(a.Registry, a.chat)
	a.Exporter = services.NewExporter(a.Metrics)

	slog.Info("Document capture initialized.",
		"extractionModel", cfg.ExtractionModel,
		"chatModel", cfg.ChatModel,
		"staging", cfg.StagingBucket != "",
		"store", a.Store != nil,
		"workflow", cfg.WorkflowID)
	return nil
}

// NewRegistry returns an empty registry wired to the shared extractor,
// mirror, metrics and workflow hand-off.
func (a *App) NewRegistry() *services.Registry {
	opts := []services.RegistryOption{services.WithMetrics(a.Metrics)}
	if a.mirror != nil {
		opts = append(opts, services.WithRecorder(a.mirror))
	}
	if a.workflows != nil {
		opts = append(opts, services.WithCompletionHook(services.NewWorkflowHandoff(a.workflows)))
	}
	return services.NewRegistry(a.Extractor, opts...)
}

// RestoreUploads loads the stored terminal records into the long-lived
// Registry. Without a store it does nothing.
func (a *App) RestoreUploads(ctx context.Context) (int, error) {
	if a.Store == nil {
		return 0, nil
	}
	return store.Restore(ctx, a.Store, a.Registry)
}

// Close drains the mirror and releases every client.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.workflows != nil {
		errs = append(errs, a.workflows.Close())
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	if a.vertex != nil {
		errs = append(errs, a.vertex.Close())
	}
	return errors.Join(errs...)
}
