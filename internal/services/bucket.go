package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/models"
)

// ObjectStore reads source objects and writes exported documents.
type ObjectStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, string, error)
	// WriteOnce writes object unless it already exists.
	WriteOnce(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSObjects implements ObjectStore on Cloud Storage.
type GCSObjects struct {
	client *storage.Client
}

func NewGCSObjects(client *storage.Client) *GCSObjects {
	return &GCSObjects{client: client}
}

func (g *GCSObjects) Read(ctx context.Context, bucket, object string) ([]byte, string, error) {
	data, attrs, err := gcp.ReadGCSObject(ctx, g.client, bucket, object)
	if err != nil {
		return nil, "", err
	}
	return data, attrs.ContentType, nil
}

func (g *GCSObjects) WriteOnce(ctx context.Context, bucket, object, contentType string, data []byte) error {
	return gcp.SaveToGCSAtomically(ctx, g.client.Bucket(bucket), object, contentType, data)
}

// BucketIntake captures files dropped into a bucket and writes their
// documents to an export bucket.
type BucketIntake struct {
	objects      ObjectStore
	newRegistry  func() *Registry
	exporter     *Exporter
	exportBucket string
}

func NewBucketIntake(objects ObjectStore, newRegistry func() *Registry, exporter *Exporter, exportBucket string) *BucketIntake {
	return &BucketIntake{objects: objects, newRegistry: newRegistry, exporter: exporter, exportBucket: exportBucket}
}

// Process handles one finalized object. An extraction failure is recorded on
// the record and is not returned, so the event is not redelivered.
func (b *BucketIntake) Process(ctx context.Context, e models.GCSEvent) (models.UploadRecord, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if e.Bucket == "" || e.Name == "" {
		return models.UploadRecord{}, fmt.Errorf("event is missing bucket or object name")
	}
	if strings.HasSuffix(strings.ToLower(e.Name), ".docx") || strings.HasSuffix(e.Name, "/") {
		logCtx.Info("Skipping object that is not a capture source.")
		return models.UploadRecord{}, nil
	}

	data, contentType, err := b.objects.Read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read source object.", "error", err)
		return models.UploadRecord{}, err
	}
	if contentType == "" {
		contentType = e.ContentType
	}

	reg := b.newRegistry()
	created := reg.Intake(NewUploadFile(path.Base(e.Name), contentType, data))
	if _, err := reg.Process(ctx); err != nil {
		return models.UploadRecord{}, err
	}
	rec, ok := reg.Get(created[0].ID)
	if !ok {
		return models.UploadRecord{}, ErrRecordNotFound
	}
	logCtx = logCtx.With("uploadId", rec.ID, "status", string(rec.Status))

	if rec.Status != models.StatusSuccess {
		logCtx.Warn("Capture failed.", "errorMessage", rec.ErrorMessage)
		return rec, nil
	}
	if b.exportBucket == "" {
		logCtx.Info("Capture complete. No export bucket configured.")
		return rec, nil
	}

	doc, err := b.exporter.ContentDocument(rec.ExtractedContent)
	if err != nil {
		return rec, err
	}
	object := strings.TrimSuffix(e.Name, path.Ext(e.Name)) + ".docx"
	if err := b.objects.WriteOnce(ctx, b.exportBucket, object, DocxMIMEType, doc); err != nil {
		logCtx.Error("Failed to write exported document.", "error", err)
		return rec, err
	}
	logCtx.Info("Capture complete.", "export", gcp.GCSURI(b.exportBucket, object))
	return rec, nil
}
