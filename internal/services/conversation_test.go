package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/documentcapture/internal/models"
)

type fakeReplier struct {
	answer  string
	err     error
	doc     string
	history []models.ChatMessage
}

func (f *fakeReplier) Reply(ctx context.Context, documentText string, history []models.ChatMessage) (string, error) {
	f.doc = documentText
	f.history = append([]models.ChatMessage(nil), history...)
	return f.answer, f.err
}

func extractedRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	reg := NewRegistry(&fakeExtractor{})
	created := reg.Intake(files("notes.png")...)
	if _, err := reg.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return reg, created[0].ID
}

func TestSendAppendsExchange(t *testing.T) {
	reg, id := extractedRegistry(t)
	replier := &fakeReplier{answer: "It says notes.png"}
	conv := NewConversation(reg, replier)

	res, err := conv.Send(context.Background(), id, "  what does it say?  ")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Failed || res.Reply.Role != models.RoleModel || res.Reply.Content != "It says notes.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if replier.doc != "notes.png" {
		t.Fatalf("grounding text = %q", replier.doc)
	}
	if len(replier.history) != 1 || replier.history[0].Content != "what does it say?" {
		t.Fatalf("history sent = %+v", replier.history)
	}

	rec, _ := reg.Get(id)
	if len(rec.ChatHistory) != 2 || rec.ChatHistory[0].Role != models.RoleUser || rec.ChatHistory[1].Role != models.RoleModel {
		t.Fatalf("history = %+v", rec.ChatHistory)
	}

	if _, err := conv.Send(context.Background(), id, "and then?"); err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	if len(replier.history) != 3 {
		t.Fatalf("second call should carry prior exchange, got %+v", replier.history)
	}
}

func TestSendChatErrorIsNotSaved(t *testing.T) {
	reg, id := extractedRegistry(t)
	conv := NewConversation(reg, &fakeReplier{err: &ChatError{Message: "empty response"}})

	res, err := conv.Send(context.Background(), id, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !res.Failed || !strings.HasPrefix(res.Reply.Content, "Error: ") || res.Reply.Role != models.RoleModel {
		t.Fatalf("unexpected result %+v", res)
	}
	rec, _ := reg.Get(id)
	if len(rec.ChatHistory) != 0 {
		t.Fatalf("failed exchange was saved: %+v", rec.ChatHistory)
	}
}

func TestSendValidation(t *testing.T) {
	reg, id := extractedRegistry(t)
	pending := reg.Intake(files("later.png")...)
	conv := NewConversation(reg, &fakeReplier{answer: "x"})

	cases := []struct {
		name string
		id   string
		text string
		want error
	}{
		{"blank", id, "   ", ErrEmptyMessage},
		{"unknown", "missing", "hi", ErrRecordNotFound},
		{"not extracted", pending[0].ID, "hi", ErrNotExtracted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := conv.Send(context.Background(), tc.id, tc.text); !errors.Is(err, tc.want) {
				t.Fatalf("Send() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSuggestionsAreCopies(t *testing.T) {
	conv := NewConversation(NewRegistry(&fakeExtractor{}), &fakeReplier{})
	s := conv.Suggestions()
	if len(s) != 5 {
		t.Fatalf("expected 5 suggestions, got %d", len(s))
	}
	s[0] = "changed"
	if conv.Suggestions()[0] == "changed" {
		t.Fatal("Suggestions() exposes internal slice")
	}
}
