package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mikeboe/research-reporter/pkg/markdown"
)

var (
	ErrNotFound = errors.New("report not found")
	ErrExists   = errors.New("report already exists")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Bundle is the terminal artifact of a completed run.
type Bundle struct {
	ResearchID  string             `json:"research_id"`
	Report      string             `json:"report"`
	SourceURLs  []string           `json:"source_urls"`
	VisitedURLs []string           `json:"visited_urls"`
	Costs       float64            `json:"costs"`
	Images      []string           `json:"images"`
	ExportPaths map[string]string  `json:"export_paths"`
	Sections    []markdown.Section `json:"sections,omitempty"`
}

// Record tracks one run from submission to its bundle or failure.
type Record struct {
	ResearchID string    `json:"research_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Bundle     *Bundle   `json:"bundle,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Store holds run records and their logs.
type Store interface {
	Create(ctx context.Context, researchID string) error
	Start(ctx context.Context, researchID string) error
	Complete(ctx context.Context, researchID string, bundle Bundle) error
	Fail(ctx context.Context, researchID string, reason string) error
	Get(ctx context.Context, researchID string) (*Record, error)

	AppendLog(ctx context.Context, researchID string, entry LogEntry) error
	Logs(ctx context.Context, researchID string) ([]LogEntry, error)
}
