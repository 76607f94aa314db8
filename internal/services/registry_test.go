package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []string
	results map[string]models.ExtractedContent
	errs    map[string]error
	// gate, when set, blocks every call until it is closed.
	gate    chan struct{}
	started chan string
	during  func(id string)
}

func (f *fakeExtractor) Extract(ctx context.Context, id string, file models.UploadFile) (models.ExtractedContent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.Name)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- id
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.during != nil {
		f.during(id)
	}
	if err := f.errs[file.Name]; err != nil {
		return nil, err
	}
	if c, ok := f.results[file.Name]; ok {
		return c, nil
	}
	return models.ExtractedContent{&models.ParagraphBlock{Content: models.Paragraph{Runs: []models.Run{{Text: file.Name}}}}}, nil
}

func (f *fakeExtractor) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingRecorder) statusesFor(id string) []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Status
	for _, e := range r.events {
		if e.Kind == EventUpserted && e.ID == id {
			out = append(out, e.Record.Status)
		}
	}
	return out
}

func files(names ...string) []models.UploadFile {
	out := make([]models.UploadFile, 0, len(names))
	for _, n := range names {
		out = append(out, models.UploadFile{Name: n, MIMEType: "image/png", Data: []byte(n)})
	}
	return out
}

func TestIntakeAppendsPendingRecordsInOrder(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("a.png", "b.png")...)
	if len(created) != 2 {
		t.Fatalf("expected 2 records, got %d", len(created))
	}
	if created[0].ID == created[1].ID || created[0].ID == "" {
		t.Fatalf("expected distinct ids, got %q and %q", created[0].ID, created[1].ID)
	}
	records := reg.Records()
	for i, name := range []string{"a.png", "b.png"} {
		if records[i].File.Name != name || records[i].Status != models.StatusPending {
			t.Fatalf("record %d = %+v", i, records[i])
		}
		if records[i].ChatHistory == nil || len(records[i].ChatHistory) != 0 {
			t.Fatalf("expected empty history, got %v", records[i].ChatHistory)
		}
	}
	if reg.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d", reg.PendingCount())
	}
}

func TestProcessMixedOutcomes(t *testing.T) {
	ext := &fakeExtractor{errs: map[string]error{"b.png": &ExtractionError{Message: "model returned an empty response"}}}
	rec := &recordingRecorder{}
	var hookSummary models.ProcessSummary
	reg := NewRegistry(ext, WithRecorder(rec), WithCompletionHook(func(_ context.Context, s models.ProcessSummary) {
		hookSummary = s
	}))
	created := reg.Intake(files("a.png", "b.png", "c.png")...)

	summary, err := reg.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := ext.callNames(); len(got) != 3 || got[0] != "a.png" || got[1] != "b.png" || got[2] != "c.png" {
		t.Fatalf("extraction order = %v", got)
	}

	records := reg.Records()
	if records[0].Status != models.StatusSuccess || records[2].Status != models.StatusSuccess {
		t.Fatalf("expected a and c to succeed: %+v", records)
	}
	if records[1].Status != models.StatusError || records[1].ErrorMessage == "" {
		t.Fatalf("expected b to fail with a message: %+v", records[1])
	}
	if records[1].ExtractedContent != nil {
		t.Fatal("failed record must not carry content")
	}
	if records[0].ErrorMessage != "" {
		t.Fatal("successful record must not carry an error message")
	}
	if len(summary.Succeeded) != 2 || len(summary.Failed) != 1 || summary.Snapshot != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if hookSummary.RunID != summary.RunID {
		t.Fatal("completion hook did not receive the run summary")
	}
	if reg.Processing() {
		t.Fatal("processing flag left set")
	}

	want := []models.Status{models.StatusPending, models.StatusProcessing, models.StatusSuccess}
	got := rec.statusesFor(created[0].ID)
	if len(got) != len(want) {
		t.Fatalf("status events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status events = %v, want %v", got, want)
		}
	}
}

func TestProcessWithNothingPending(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	if _, err := reg.Process(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}

	reg.Intake(files("a.png")...)
	if _, err := reg.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := reg.Process(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("terminal records must not be reprocessed, got %v", err)
	}
}

func TestStartRejectsSecondRunAndIgnoresLateIntake(t *testing.T) {
	ext := &fakeExtractor{gate: make(chan struct{}), started: make(chan string, 4)}
	done := make(chan models.ProcessSummary, 1)
	reg := NewRegistry(ext, WithCompletionHook(func(_ context.Context, s models.ProcessSummary) { done <- s }))
	reg.Intake(files("a.png", "b.png")...)

	queued, err := reg.Start(context.Background())
	if err != nil || queued != 2 {
		t.Fatalf("Start() = %d, %v", queued, err)
	}
	<-ext.started

	if !reg.Processing() {
		t.Fatal("expected processing flag while the loop runs")
	}
	if _, err := reg.Start(context.Background()); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	late := reg.Intake(files("late.png")...)

	close(ext.gate)
	select {
	case s := <-done:
		if s.Snapshot != 2 || len(s.Succeeded) != 2 {
			t.Fatalf("unexpected summary %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("processing run did not finish")
	}

	got, ok := reg.Get(late[0].ID)
	if !ok || got.Status != models.StatusPending {
		t.Fatalf("late record should stay pending, got %+v", got)
	}
	if reg.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d", reg.PendingCount())
	}
}

func TestClearDuringExtractionDropsUpdate(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("a.png", "b.png")...)
	ext := &fakeExtractor{during: func(id string) {
		if id == created[0].ID {
			reg.Clear(id)
		}
	}}
	reg.extractor = ext

	summary, err := reg.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := reg.Get(created[0].ID); ok {
		t.Fatal("cleared record came back")
	}
	if len(summary.Dropped) != 1 || summary.Dropped[0] != created[0].ID {
		t.Fatalf("expected one dropped update, got %+v", summary)
	}
	if got, _ := reg.Get(created[1].ID); got.Status != models.StatusSuccess {
		t.Fatalf("second record status = %s", got.Status)
	}
}

func TestClearAllDuringExtraction(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	reg.Intake(files("a.png", "b.png")...)
	reg.extractor = &fakeExtractor{during: func(string) { reg.ClearAll() }}

	summary, err := reg.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(reg.Records()) != 0 {
		t.Fatalf("expected empty registry, got %d records", len(reg.Records()))
	}
	if len(summary.Dropped) != 2 {
		t.Fatalf("expected both updates dropped, got %+v", summary)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("a.png")...)
	if !reg.Clear(created[0].ID) {
		t.Fatal("expected first clear to remove the record")
	}
	if reg.Clear(created[0].ID) {
		t.Fatal("second clear should be a no-op")
	}
	if reg.Clear("missing") {
		t.Fatal("clearing an unknown id should be a no-op")
	}
}

func TestAppendExchange(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("a.png")...)
	user := models.ChatMessage{Role: models.RoleUser, Content: "q"}
	reply := models.ChatMessage{Role: models.RoleModel, Content: "a"}

	if !reg.AppendExchange(created[0].ID, user, reply) {
		t.Fatal("AppendExchange() = false")
	}
	got, _ := reg.Get(created[0].ID)
	if len(got.ChatHistory) != 2 || got.ChatHistory[0] != user || got.ChatHistory[1] != reply {
		t.Fatalf("history = %+v", got.ChatHistory)
	}
	if reg.AppendExchange("missing", user, reply) {
		t.Fatal("AppendExchange() on unknown id should be a no-op")
	}
}

func TestRecordsAreCopies(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("a.png")...)
	if _, err := reg.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	got, _ := reg.Get(created[0].ID)
	got.Status = models.StatusPending
	got.ExtractedContent[0].(*models.ParagraphBlock).Content.Runs[0].Text = "changed"

	again, _ := reg.Get(created[0].ID)
	if again.Status != models.StatusSuccess || again.ExtractedContent.PlainText() != "a.png" {
		t.Fatalf("registry state was mutated through a copy: %+v", again)
	}
}

func TestRestoreSkipsNonTerminalAndDuplicates(t *testing.T) {
	reg := NewRegistry(&fakeExtractor{})
	existing := reg.Intake(files("a.png")...)
	added := reg.Restore([]models.UploadRecord{
		{ID: "done", Status: models.StatusSuccess, ExtractedContent: models.ExtractedContent{}},
		{ID: "failed", Status: models.StatusError, ErrorMessage: "boom"},
		{ID: "waiting", Status: models.StatusPending},
		{ID: existing[0].ID, Status: models.StatusSuccess},
	})
	if added != 2 {
		t.Fatalf("Restore() = %d, want 2", added)
	}
	if len(reg.Records()) != 3 {
		t.Fatalf("expected 3 records, got %d", len(reg.Records()))
	}
	if got, _ := reg.Get(existing[0].ID); got.Status != models.StatusPending {
		t.Fatal("restore overwrote a live record")
	}
}
