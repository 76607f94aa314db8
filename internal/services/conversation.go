package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/documentcapture/internal/models"
)

// Replier answers the last user message of history from documentText.
type Replier interface {
	Reply(ctx context.Context, documentText string, history []models.ChatMessage) (string, error)
}

// SendResult is the message shown to the user after a send. Failed marks a
// synthetic error message that was not saved to the history.
type SendResult struct {
	Reply  models.ChatMessage
	Failed bool
}

var suggestions = []string{
	"Summarise this document.",
	"Explain this document in more detail.",
	"Give examples based on this document.",
	"List the actions or decisions in this document.",
	"Translate this document verbatim into English.",
}

// Conversation runs the chat exchange of one record.
type Conversation struct {
	registry *Registry
	replier  Replier
}

func NewConversation(registry *Registry, replier Replier) *Conversation {
	return &Conversation{registry: registry, replier: replier}
}

// Send asks a question about the record's extracted content. A chat failure
// is returned as an "Error: ..." model message rather than an error.
func (c *Conversation) Send(ctx context.Context, id, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}
	rec, ok := c.registry.Get(id)
	if !ok {
		return SendResult{}, ErrRecordNotFound
	}
	if rec.Status != models.StatusSuccess {
		return SendResult{}, ErrNotExtracted
	}

	user := models.ChatMessage{Role: models.RoleUser, Content: text}
	history := append(rec.ChatHistory, user)

	answer, err := c.replier.Reply(ctx, rec.ExtractedContent.PlainText(), history)
	if err != nil {
		var chatErr *ChatError
		if !errors.As(err, &chatErr) {
			chatErr = &ChatError{Message: "unexpected failure", Err: err}
		}
		slog.Warn("Chat reply failed.", "uploadId", id, "error", err)
		return SendResult{
			Reply:  models.ChatMessage{Role: models.RoleModel, Content: "Error: " + chatErr.Error()},
			Failed: true,
		}, nil
	}

	reply := models.ChatMessage{Role: models.RoleModel, Content: answer}
	if !c.registry.AppendExchange(id, user, reply) {
		// Cleared while waiting for the reply.
		return SendResult{}, ErrRecordNotFound
	}
	return SendResult{Reply: reply}, nil
}

// Suggestions returns canned conversation starters.
func (c *Conversation) Suggestions() []string {
	return append([]string(nil), suggestions...)
}
