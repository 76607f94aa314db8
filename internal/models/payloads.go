package models

// These structs define the JSON bodies exchanged with the HTTP surface and
// the workflow hand-off.

// UploadListResponse is the status list shown to the user.
type UploadListResponse struct {
	Uploads      []UploadRecord `json:"uploads"`
	Processing   bool           `json:"processing"`
	PendingCount int            `json:"pendingCount"`
}

// IntakeResponse lists the records created by one intake.
type IntakeResponse struct {
	Uploads []UploadRecord `json:"uploads"`
}

// ProcessResponse is returned when a processing run has been started.
type ProcessResponse struct {
	Status string `json:"status"`
	Queued int    `json:"queued"`
}

// ChatRequest carries one user message for a record's conversation.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse returns the model's answer. Failed is set when the answer is
// a synthetic error message that was not saved to the history.
type ChatResponse struct {
	Reply  ChatMessage `json:"reply"`
	Failed bool        `json:"failed,omitempty"`
}

// TranscriptResponse is the chat panel of one record.
type TranscriptResponse struct {
	History     []ChatMessage `json:"history"`
	Suggestions []string      `json:"suggestions"`
}

// ChatDocumentRequest asks for a chat reply rendered as a document.
type ChatDocumentRequest struct {
	Content string `json:"content"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProcessSummary describes one finished processing run. It is also the
// argument handed to the downstream workflow.
type ProcessSummary struct {
	RunID     string   `json:"runId"`
	Snapshot  int      `json:"snapshot"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Dropped   []string `json:"dropped,omitempty"`
}

// GCSEvent is the data of a Cloud Storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}
