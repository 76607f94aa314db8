package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/services"
)

type opLog struct {
	mu  sync.Mutex
	ops []string
	err error
}

func (l *opLog) add(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
	return l.err
}

func (l *opLog) Save(ctx context.Context, rec models.UploadRecord) error {
	return l.add("save:" + rec.ID + ":" + string(rec.Status))
}
func (l *opLog) Delete(ctx context.Context, id string) error { return l.add("delete:" + id) }
func (l *opLog) DeleteAll(ctx context.Context) error         { return l.add("clear") }
func (l *opLog) LoadTerminal(ctx context.Context) ([]models.UploadRecord, error) {
	return nil, nil
}
func (l *opLog) Close() error { return nil }

func closeMirror(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestMirrorAppliesEventsInOrder(t *testing.T) {
	log := &opLog{}
	m := NewMirror(log)
	m.Record(services.Event{Kind: services.EventUpserted, ID: "a", Record: models.UploadRecord{ID: "a", Status: models.StatusPending}})
	m.Record(services.Event{Kind: services.EventUpserted, ID: "a", Record: models.UploadRecord{ID: "a", Status: models.StatusProcessing}})
	m.Record(services.Event{Kind: services.EventRemoved, ID: "a"})
	m.Record(services.Event{Kind: services.EventCleared})
	closeMirror(t, m)

	want := []string{"save:a:pending", "save:a:processing", "delete:a", "clear"}
	if len(log.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
	for i := range want {
		if log.ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", log.ops, want)
		}
	}

	m.Record(services.Event{Kind: services.EventCleared})
	if len(log.ops) != len(want) {
		t.Fatal("events after Close must be ignored")
	}
}

func TestMirrorKeepsGoingOnStoreErrors(t *testing.T) {
	log := &opLog{err: errors.New("unavailable")}
	m := NewMirror(log)
	m.Record(services.Event{Kind: services.EventRemoved, ID: "a"})
	m.Record(services.Event{Kind: services.EventRemoved, ID: "b"})
	closeMirror(t, m)
	if len(log.ops) != 2 {
		t.Fatalf("ops = %v", log.ops)
	}
}

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, id string, file models.UploadFile) (models.ExtractedContent, error) {
	return models.ExtractedContent{&models.ParagraphBlock{Content: models.Paragraph{Runs: []models.Run{{Text: file.Name}}}}}, nil
}

func TestMirrorAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewMirror(db)

	reg := services.NewRegistry(stubExtractor{}, services.WithRecorder(m))
	created := reg.Intake(
		models.UploadFile{Name: "a.png", MIMEType: "image/png", Data: []byte("a")},
		models.UploadFile{Name: "b.png", MIMEType: "image/png", Data: []byte("b")},
	)
	if _, err := reg.Process(ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	reg.AppendExchange(created[0].ID,
		models.ChatMessage{Role: models.RoleUser, Content: "q"},
		models.ChatMessage{Role: models.RoleModel, Content: "a"})
	reg.Clear(created[1].ID)
	reg.Intake(models.UploadFile{Name: "c.png", MIMEType: "image/png", Data: []byte("c")})
	closeMirror(t, m)

	fresh := services.NewRegistry(stubExtractor{})
	n, err := Restore(ctx, db, fresh)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	got, ok := fresh.Get(created[0].ID)
	if !ok || got.Status != models.StatusSuccess || got.ExtractedContent.PlainText() != "a.png" || len(got.ChatHistory) != 2 {
		t.Fatalf("restored record = %+v", got)
	}
}
