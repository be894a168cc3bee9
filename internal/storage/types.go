package storage

import (
	"encoding/json"
	"time"
)

// Workflow is a saved workflow definition.
type Workflow struct {
	UUID        string          `json:"uuid"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Nodes       json.RawMessage `json:"nodes,omitempty"`
	Edges       json.RawMessage `json:"edges,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Document is the metadata of one uploaded knowledge file.
type Document struct {
	UUID           string    `json:"uuid"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	CollectionName string    `json:"collection_name"`
	ChunkCount     int       `json:"chunk_count"`
	EmbeddingModel string    `json:"embedding_model"`
	UserID         string    `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatLog is one answered chat turn.
type ChatLog struct {
	UUID         string    `json:"uuid"`
	WorkflowUUID string    `json:"workflow_uuid,omitempty"`
	Message      string    `json:"message"`
	Response     string    `json:"response"`
	Provider     string    `json:"provider"`
	ContextUsed  int       `json:"context_used"`
	WebUsed      bool      `json:"web_used"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecutionLog is the outcome record of one workflow run.
type ExecutionLog struct {
	UUID            string    `json:"uuid"`
	WorkflowUUID    string    `json:"workflow_uuid,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	Response        string    `json:"response,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ContextUsed     int       `json:"context_used"`
	WebUsed         bool      `json:"web_used"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExecutionFilter narrows ListExecutionLogs. Empty fields match everything.
type ExecutionFilter struct {
	UserID       string
	WorkflowUUID string
	Status       string
}

// Collection is a named set of embedded chunks.
type Collection struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}
