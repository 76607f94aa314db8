package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/Lllllllleong/documentcapture/internal/resilience"
	"golang.org/x/time/rate"
)

// ChatBackend replays a history into a fresh chat session and sends the next
// user turn. *gcp.VertexClient satisfies it.
type ChatBackend interface {
	SendChat(ctx context.Context, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiChat answers questions grounded in one document's text.
type GeminiChat struct {
	backend  ChatBackend
	executor *resilience.Executor
	limiter  *rate.Limiter
	metrics  *metrics.CaptureMetrics
}

// NewGeminiChat builds the chat client. A nil limiter disables rate limiting.
func NewGeminiChat(backend ChatBackend, executor *resilience.Executor, limiter *rate.Limiter, m *metrics.CaptureMetrics) *GeminiChat {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &GeminiChat{backend: backend, executor: executor, limiter: limiter, metrics: m}
}

// Reply sends the last message of history, which must come from the user,
// with the document text and earlier messages as context. Every call sends
// the full context again.
func (c *GeminiChat) Reply(ctx context.Context, documentText string, history []models.ChatMessage) (string, error) {
	reply, err := c.reply(ctx, documentText, history)
	c.metrics.ObserveChat(err)
	return reply, err
}

func (c *GeminiChat) reply(ctx context.Context, documentText string, history []models.ChatMessage) (string, error) {
	prior, last, err := chatContents(documentText, history)
	if err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &ChatError{Message: "rate limit wait aborted", Err: err}
		}
	}

	var resp *genai.GenerateContentResponse
	err = c.executor.Execute(ctx, "chat", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.backend.SendChat(ctx, prior, last)
		return callErr
	}, nil)
	if err != nil {
		return "", &ChatError{Message: "model call failed", Err: err}
	}

	text := responseText(resp)
	if text != "" {
		return text, nil
	}
	if reason := finishReason(resp); reason != genai.FinishReasonUnspecified && reason != genai.FinishReasonStop {
		return "", &ChatError{Message: fmt.Sprintf("response stopped: %s", reason.String())}
	}
	return "", &ChatError{Message: "empty response"}
}

// chatContents builds the session history (grounding pair followed by all
// but the last message) and the part to send.
func chatContents(documentText string, history []models.ChatMessage) ([]*genai.Content, genai.Part, error) {
	if len(history) == 0 {
		return nil, nil, &ChatError{Message: "history is empty"}
	}
	last := history[len(history)-1]
	if last.Role != models.RoleUser {
		return nil, nil, &ChatError{Message: "last message must come from the user"}
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []genai.Part{genai.Text(fmt.Sprintf("CONTEXT:\n---\n%s\n---", documentText))}},
		{Role: "model", Parts: []genai.Part{genai.Text(gcp.ChatGroundingAck)}},
	}
	for _, msg := range history[:len(history)-1] {
		role, err := chatRole(msg.Role)
		if err != nil {
			return nil, nil, err
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return contents, genai.Text(last.Content), nil
}

func chatRole(r models.Role) (string, error) {
	switch r {
	case models.RoleUser:
		return "user", nil
	case models.RoleModel:
		return "model", nil
	default:
		return "", &ChatError{Message: fmt.Sprintf("unknown message role %q", r)}
	}
}

func finishReason(resp *genai.GenerateContentResponse) genai.FinishReason {
	if resp == nil || len(resp.Candidates) == 0 {
		return genai.FinishReasonUnspecified
	}
	return resp.Candidates[0].FinishReason
}
