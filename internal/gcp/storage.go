package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GCSURI formats the gs:// address of an object.
func GCSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure: redelivered events and restaged files are expected.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "object", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "object", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "object", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "object", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// ReadGCSObject downloads a whole object into memory.
func ReadGCSObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, *storage.ReaderObjectAttrs, error) {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get GCS object reader for %s: %w", GCSURI(bucket, object), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read GCS object %s: %w", GCSURI(bucket, object), err)
	}
	return data, &reader.Attrs, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
