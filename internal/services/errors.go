package services

import "errors"

var (
	// ErrAlreadyProcessing is returned when a processing run is still in flight.
	ErrAlreadyProcessing = errors.New("processing is already in progress")
	// ErrNothingPending is returned when no record is waiting for extraction.
	ErrNothingPending = errors.New("no pending uploads to process")
	ErrRecordNotFound = errors.New("upload not found")
	// ErrNotExtracted is returned when a record has no extracted content to work with.
	ErrNotExtracted = errors.New("upload has no extracted content")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrEmptyExport is returned when a chat reply with no text is exported.
	ErrEmptyExport = errors.New("nothing to export")
	// ErrNoTables is returned when a tables workbook is requested for content without tables.
	ErrNoTables = errors.New("extracted content has no tables")
)

// ExtractionError is the single failure kind of the extraction client. Read
// failures, empty or malformed responses and transport errors all map to it.
type ExtractionError struct {
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return "could not extract text: " + e.Message
	}
	return "could not extract text: " + e.Message + ": " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ChatError is the failure kind of the chat client.
type ChatError struct {
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err == nil {
		return "chatbot error: " + e.Message
	}
	return "chatbot error: " + e.Message + ": " + e.Err.Error()
}

func (e *ChatError) Unwrap() error { return e.Err }
