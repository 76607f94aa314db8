package models

import "time"

// Status is the lifecycle state of an upload record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one entry of a record's conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UploadFile is the user-provided payload. It never changes after intake.
type UploadFile struct {
	Name      string `json:"name"`
	MIMEType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	PageCount int    `json:"pageCount,omitempty"`
	Data      []byte `json:"-"`
}

// UploadRecord tracks one file through extraction and chat.
type UploadRecord struct {
	ID               string           `json:"id"`
	File             UploadFile       `json:"file"`
	Status           Status           `json:"status"`
	ExtractedContent ExtractedContent `json:"extractedContent,omitzero"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	ChatHistory      []ChatMessage    `json:"chatHistory"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Clone deep-copies the record. File bytes are shared because they are immutable.
func (r UploadRecord) Clone() UploadRecord {
	out := r
	out.ExtractedContent = r.ExtractedContent.Clone()
	out.ChatHistory = make([]ChatMessage, len(r.ChatHistory))
	copy(out.ChatHistory, r.ChatHistory)
	return out
}
