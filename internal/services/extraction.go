package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/Lllllllleong/documentcapture/internal/resilience"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ContentGenerator is the part of *genai.GenerativeModel used for extraction.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Stager uploads a file so the model can read it by URI.
type Stager interface {
	Stage(ctx context.Context, id string, file models.UploadFile) (string, error)
}

// GCSStager writes staged files to a bucket, one folder per record.
type GCSStager struct {
	bucket     *storage.BucketHandle
	bucketName string
}

func NewGCSStager(client *storage.Client, bucketName string) *GCSStager {
	return &GCSStager{bucket: client.Bucket(bucketName), bucketName: bucketName}
}

func (s *GCSStager) Stage(ctx context.Context, id string, file models.UploadFile) (string, error) {
	objectName := fmt.Sprintf("%s/%s", id, file.Name)
	if err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, file.MIMEType, file.Data); err != nil {
		return "", err
	}
	return gcp.GCSURI(s.bucketName, objectName), nil
}

// ExtractionOptions tunes the extractor. Zero values mean inline payloads and no timeout.
type ExtractionOptions struct {
	Stager           Stager
	InlineLimitBytes int64
	Timeout          time.Duration
	Metrics          *metrics.CaptureMetrics
}

// GeminiExtractor implements Extractor on a Gemini model configured for
// JSON content-block output.
type GeminiExtractor struct {
	model    ContentGenerator
	executor *resilience.Executor
	schema   *jsonschema.Schema
	opts     ExtractionOptions
}

// blocksSchema checks the top level only: an array of objects tagged with a
// known block type. Nested runs, rows and cells are trusted.
const blocksSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type"],
    "properties": {
      "type": {"enum": ["paragraph", "table"]}
    }
  }
}`

func compileBlocksSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("content-blocks.json", strings.NewReader(blocksSchema)); err != nil {
		return nil, fmt.Errorf("add content block schema: %w", err)
	}
	schema, err := compiler.Compile("content-blocks.json")
	if err != nil {
		return nil, fmt.Errorf("compile content block schema: %w", err)
	}
	return schema, nil
}

func NewGeminiExtractor(model ContentGenerator, executor *resilience.Executor, opts ExtractionOptions) (*GeminiExtractor, error) {
	if model == nil {
		return nil, fmt.Errorf("NewGeminiExtractor: model cannot be nil")
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	schema, err := compileBlocksSchema()
	if err != nil {
		return nil, err
	}
	return &GeminiExtractor{model: model, executor: executor, schema: schema, opts: opts}, nil
}

// Extract sends the file to the model and parses the structured reply. Every
// failure is an *ExtractionError.
func (e *GeminiExtractor) Extract(ctx context.Context, id string, file models.UploadFile) (models.ExtractedContent, error) {
	logCtx := slog.With("uploadId", id, "filename", file.Name, "mimeType", file.MIMEType)

	if len(file.Data) == 0 {
		return nil, &ExtractionError{Message: "file is empty or unreadable"}
	}

	filePart, err := e.filePart(ctx, id, file)
	if err != nil {
		logCtx.Error("Failed to stage file for extraction.", "error", err)
		return nil, &ExtractionError{Message: "could not stage file", Err: err}
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.opts.Metrics.StartExtraction()
	start := time.Now()
	content, err := e.generate(ctx, filePart)
	e.opts.Metrics.FinishExtraction(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Extraction complete.", "blocks", len(content), "duration", time.Since(start).String())
	return content, nil
}

func (e *GeminiExtractor) generate(ctx context.Context, filePart genai.Part) (models.ExtractedContent, error) {
	var resp *genai.GenerateContentResponse
	err := e.executor.Execute(ctx, "extract", func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.model.GenerateContent(ctx, filePart, genai.Text(gcp.ExtractionUserPrompt))
		return callErr
	}, nil)
	if err != nil {
		return nil, &ExtractionError{Message: "model call failed", Err: err}
	}
	return e.parse(responseText(resp))
}

func (e *GeminiExtractor) filePart(ctx context.Context, id string, file models.UploadFile) (genai.Part, error) {
	if e.opts.Stager == nil || e.opts.InlineLimitBytes <= 0 || int64(len(file.Data)) <= e.opts.InlineLimitBytes {
		return genai.Blob{MIMEType: file.MIMEType, Data: file.Data}, nil
	}
	uri, err := e.opts.Stager.Stage(ctx, id, file)
	if err != nil {
		return nil, err
	}
	return genai.FileData{MIMEType: file.MIMEType, FileURI: uri}, nil
}

func (e *GeminiExtractor) parse(text string) (models.ExtractedContent, error) {
	text = stripFences(text)
	if text == "" {
		return nil, &ExtractionError{Message: "model returned an empty response"}
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &ExtractionError{Message: "model returned malformed JSON", Err: err}
	}
	if err := e.schema.Validate(raw); err != nil {
		return nil, &ExtractionError{Message: "model returned content that is not a list of content blocks", Err: err}
	}

	var content models.ExtractedContent
	if err := json.Unmarshal([]byte(text), &content); err != nil {
		return nil, &ExtractionError{Message: "model returned content with an unexpected shape", Err: err}
	}
	if content == nil {
		content = models.ExtractedContent{}
	}
	return content, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimPrefix(text, "```json")
	case strings.HasPrefix(text, "```"):
		text = strings.TrimPrefix(text, "```")
	default:
		return text
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
