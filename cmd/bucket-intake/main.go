package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentcapture/internal/app"
	"github.com/Lllllllleong/documentcapture/internal/config"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/logging"
	"github.com/Lllllllleong/documentcapture/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	intake  *services.BucketIntake
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(logging.NewJSONLogger("bucket-intake", gcp.GetEnv("LOG_LEVEL", "info")))

	// Register the CloudEvent function. The framework routes GCS finalize events here.
	functions.CloudEvent("IntakeFromBucket", intakeFromBucket)
}

// main is required by the Go Functions Framework.
func main() {}

func intakeFromBucket(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		intake, initErr = newIntake(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Extraction failures are recorded on the record and do not fail the invocation.
	_, err := intake.Process(ctx, gcsEvent)
	return err
}

func newIntake(ctx context.Context) (*services.BucketIntake, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.ExportBucket == "" {
		return nil, fmt.Errorf("EXPORT_BUCKET environment variable must be set")
	}
	a, err := app.New(ctx, cfg, "bucket-intake")
	if err != nil {
		return nil, err
	}
	return services.NewBucketIntake(services.NewGCSObjects(a.Storage), a.NewRegistry, a.Exporter, cfg.ExportBucket), nil
}
