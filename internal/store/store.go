package store

import (
	"context"
	"errors"

	"github.com/brandlens/geo-audit/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	BatchID    string          `json:"batch_id,omitempty"`
	PropertyID string          `json:"property_id,omitempty"`
	Status     model.RunStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the audit engine. All records
// are keyed by UUID strings.
type Store interface {
	// Properties
	CreateProperty(ctx context.Context, p model.Property) (*model.Property, error)
	GetProperty(ctx context.Context, id string) (*model.Property, error)

	// Query panel
	CreateQuery(ctx context.Context, q model.Query) (*model.Query, error)
	ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error)

	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	// StartRun transitions queued -> running. Returns false without error
	// when the run exists but is not queued, so a duplicate process request
	// is rejected rather than re-run.
	StartRun(ctx context.Context, runID string) (bool, error)
	// FinishRun transitions running -> completed|failed.
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error

	// Scores and answers
	SaveRunScore(ctx context.Context, score model.RunScore) error
	GetRunScore(ctx context.Context, runID string) (*model.RunScore, error)
	SaveAnswer(ctx context.Context, runID, queryID string, envelope model.AnswerEnvelope, scored model.ScoredAnswer) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
