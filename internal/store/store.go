package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
)

// Store persists upload records. File bytes are never stored, so only
// terminal records can be loaded back.
type Store interface {
	Save(ctx context.Context, rec models.UploadRecord) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	LoadTerminal(ctx context.Context) ([]models.UploadRecord, error)
	Close() error
}

// storedRecord is the flattened form shared by the backends.
type storedRecord struct {
	ID           string    `firestore:"id"`
	Filename     string    `firestore:"filename"`
	MIMEType     string    `firestore:"mimeType"`
	Size         int64     `firestore:"size"`
	PageCount    int       `firestore:"pageCount,omitempty"`
	Status       string    `firestore:"status"`
	Content      string    `firestore:"content,omitempty"`
	ErrorMessage string    `firestore:"errorMessage,omitempty"`
	ChatHistory  string    `firestore:"chatHistory"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func toStored(rec models.UploadRecord) (storedRecord, error) {
	out := storedRecord{
		ID:           rec.ID,
		Filename:     rec.File.Name,
		MIMEType:     rec.File.MIMEType,
		Size:         rec.File.Size,
		PageCount:    rec.File.PageCount,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
	if rec.ExtractedContent != nil {
		data, err := json.Marshal(rec.ExtractedContent)
		if err != nil {
			return storedRecord{}, fmt.Errorf("encode content of %s: %w", rec.ID, err)
		}
		out.Content = string(data)
	}
	history := rec.ChatHistory
	if history == nil {
		history = []models.ChatMessage{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return storedRecord{}, fmt.Errorf("encode chat history of %s: %w", rec.ID, err)
	}
	out.ChatHistory = string(data)
	return out, nil
}

func (s storedRecord) record() (models.UploadRecord, error) {
	rec := models.UploadRecord{
		ID: s.ID,
		File: models.UploadFile{
			Name:      s.Filename,
			MIMEType:  s.MIMEType,
			Size:      s.Size,
			PageCount: s.PageCount,
		},
		Status:       models.Status(s.Status),
		ErrorMessage: s.ErrorMessage,
		ChatHistory:  []models.ChatMessage{},
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.Content != "" {
		if err := json.Unmarshal([]byte(s.Content), &rec.ExtractedContent); err != nil {
			return models.UploadRecord{}, fmt.Errorf("decode content of %s: %w", s.ID, err)
		}
	}
	if s.ChatHistory != "" {
		if err := json.Unmarshal([]byte(s.ChatHistory), &rec.ChatHistory); err != nil {
			return models.UploadRecord{}, fmt.Errorf("decode chat history of %s: %w", s.ID, err)
		}
	}
	return rec, nil
}
