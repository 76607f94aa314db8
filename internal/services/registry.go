package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/google/uuid"
)

// Extractor turns one uploaded file into structured content.
type Extractor interface {
	Extract(ctx context.Context, id string, file models.UploadFile) (models.ExtractedContent, error)
}

// EventKind names a registry mutation.
type EventKind string

const (
	EventUpserted EventKind = "upserted"
	EventRemoved  EventKind = "removed"
	EventCleared  EventKind = "cleared"
)

// Event describes one mutation. Record is set for upserts, ID for removals.
type Event struct {
	Kind   EventKind
	ID     string
	Record models.UploadRecord
}

// Recorder receives every registry mutation in the order it was applied.
// Record is called with the registry lock held and must not block.
type Recorder interface {
	Record(Event)
}

// CompletionHook runs after each processing run with its summary.
type CompletionHook func(ctx context.Context, summary models.ProcessSummary)

// Registry owns the upload records and the sequential processing loop.
type Registry struct {
	extractor Extractor
	recorder  Recorder
	onDone    CompletionHook
	metrics   *metrics.CaptureMetrics
	now       func() time.Time

	mu         sync.Mutex
	records    []*models.UploadRecord
	processing bool
}

type RegistryOption func(*Registry)

func WithRecorder(r Recorder) RegistryOption {
	return func(reg *Registry) { reg.recorder = r }
}

func WithCompletionHook(h CompletionHook) RegistryOption {
	return func(reg *Registry) { reg.onDone = h }
}

func WithMetrics(m *metrics.CaptureMetrics) RegistryOption {
	return func(reg *Registry) { reg.metrics = m }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(reg *Registry) { reg.now = now }
}

func NewRegistry(extractor Extractor, opts ...RegistryOption) *Registry {
	r := &Registry{extractor: extractor, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Intake appends one pending record per file, in input order.
func (r *Registry) Intake(files ...models.UploadFile) []models.UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	created := make([]models.UploadRecord, 0, len(files))
	for _, f := range files {
		rec := &models.UploadRecord{
			ID:          uuid.NewString(),
			File:        f,
			Status:      models.StatusPending,
			ChatHistory: []models.ChatMessage{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		r.records = append(r.records, rec)
		r.publishLocked(Event{Kind: EventUpserted, ID: rec.ID, Record: rec.Clone()})
		created = append(created, rec.Clone())
	}
	r.refreshGaugesLocked()
	return created
}

// Clear removes the record with id. It reports whether a record was removed.
func (r *Registry) Clear(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rec := range r.records {
		if rec.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			r.publishLocked(Event{Kind: EventRemoved, ID: id})
			r.refreshGaugesLocked()
			return true
		}
	}
	return false
}

// ClearAll empties the registry. A running loop keeps going but its updates
// to the removed records are dropped.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	r.publishLocked(Event{Kind: EventCleared})
	r.refreshGaugesLocked()
}

// Process runs the extraction loop synchronously over the records that are
// pending when it is called.
func (r *Registry) Process(ctx context.Context) (models.ProcessSummary, error) {
	ids, err := r.begin()
	if err != nil {
		return models.ProcessSummary{}, err
	}
	return r.run(ctx, ids), nil
}

// Start takes the same snapshot as Process and runs the loop in the
// background. It returns the number of records queued.
func (r *Registry) Start(ctx context.Context) (int, error) {
	ids, err := r.begin()
	if err != nil {
		return 0, err
	}
	go r.run(context.WithoutCancel(ctx), ids)
	return len(ids), nil
}

func (r *Registry) begin() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.processing {
		return nil, ErrAlreadyProcessing
	}
	var ids []string
	for _, rec := range r.records {
		if rec.Status == models.StatusPending {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNothingPending
	}
	r.processing = true
	r.metrics.ProcessRunStarted()
	return ids, nil
}

func (r *Registry) run(ctx context.Context, ids []string) models.ProcessSummary {
	summary := models.ProcessSummary{
		RunID:     uuid.NewString(),
		Snapshot:  len(ids),
		Succeeded: []string{},
		Failed:    []string{},
	}
	logCtx := slog.With("runId", summary.RunID)
	logCtx.Info("Processing run started.", "queued", len(ids))

	for _, id := range ids {
		file, ok := r.markProcessing(id)
		if !ok {
			summary.Dropped = append(summary.Dropped, id)
			continue
		}

		content, err := r.extractor.Extract(ctx, id, file)
		if err != nil {
			logCtx.Warn("Extraction failed.", "uploadId", id, "filename", file.Name, "error", err)
			if r.complete(id, models.StatusError, nil, err.Error()) {
				summary.Failed = append(summary.Failed, id)
			} else {
				summary.Dropped = append(summary.Dropped, id)
			}
			continue
		}
		if r.complete(id, models.StatusSuccess, content, "") {
			summary.Succeeded = append(summary.Succeeded, id)
		} else {
			summary.Dropped = append(summary.Dropped, id)
		}
	}

	r.mu.Lock()
	r.processing = false
	r.mu.Unlock()

	logCtx.Info("Processing run finished.",
		"succeeded", len(summary.Succeeded),
		"failed", len(summary.Failed),
		"dropped", len(summary.Dropped))
	if r.onDone != nil {
		r.onDone(ctx, summary)
	}
	return summary
}

// markProcessing publishes the processing status before the extraction call.
func (r *Registry) markProcessing(id string) (models.UploadFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(id)
	if rec == nil || rec.Status != models.StatusPending {
		return models.UploadFile{}, false
	}
	rec.Status = models.StatusProcessing
	rec.UpdatedAt = r.now()
	r.publishLocked(Event{Kind: EventUpserted, ID: id, Record: rec.Clone()})
	r.refreshGaugesLocked()
	return rec.File, true
}

// complete applies a terminal status. Updates for records removed meanwhile are dropped.
func (r *Registry) complete(id string, status models.Status, content models.ExtractedContent, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(id)
	if rec == nil || rec.Status != models.StatusProcessing {
		return false
	}
	rec.Status = status
	rec.UpdatedAt = r.now()
	if status == models.StatusSuccess {
		rec.ExtractedContent = content.Clone()
		if rec.ExtractedContent == nil {
			rec.ExtractedContent = models.ExtractedContent{}
		}
	} else {
		rec.ErrorMessage = message
	}
	r.publishLocked(Event{Kind: EventUpserted, ID: id, Record: rec.Clone()})
	r.refreshGaugesLocked()
	return true
}

// AppendExchange adds a user message and the model's answer to a record's
// history. It is a no-op for unknown ids.
func (r *Registry) AppendExchange(id string, user, reply models.ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(id)
	if rec == nil {
		return false
	}
	rec.ChatHistory = append(rec.ChatHistory, user, reply)
	rec.UpdatedAt = r.now()
	r.publishLocked(Event{Kind: EventUpserted, ID: id, Record: rec.Clone()})
	return true
}

// Restore adds previously persisted terminal records that are not already
// present. It returns the number of records added.
func (r *Registry) Restore(records []models.UploadRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, rec := range records {
		if !rec.Status.IsTerminal() || rec.ID == "" || r.findLocked(rec.ID) != nil {
			continue
		}
		c := rec.Clone()
		if c.ChatHistory == nil {
			c.ChatHistory = []models.ChatMessage{}
		}
		r.records = append(r.records, &c)
		added++
	}
	r.refreshGaugesLocked()
	return added
}

// Records returns copies of all records in intake order.
func (r *Registry) Records() []models.UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.UploadRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

func (r *Registry) Get(id string) (models.UploadRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(id)
	if rec == nil {
		return models.UploadRecord{}, false
	}
	return rec.Clone(), true
}

func (r *Registry) Processing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processing
}

func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if rec.Status == models.StatusPending {
			n++
		}
	}
	return n
}

func (r *Registry) findLocked(id string) *models.UploadRecord {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *Registry) publishLocked(e Event) {
	if r.recorder != nil {
		r.recorder.Record(e)
	}
}

func (r *Registry) refreshGaugesLocked() {
	if r.metrics == nil {
		return
	}
	counts := map[string]int{
		string(models.StatusPending):    0,
		string(models.StatusProcessing): 0,
		string(models.StatusSuccess):    0,
		string(models.StatusError):      0,
	}
	for _, rec := range r.records {
		counts[string(rec.Status)]++
	}
	r.metrics.SetUploads(counts)
}
