package runs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no record exists for the requested run.
var ErrNotFound = errors.New("run not found")

// Repo defines persistence operations for run records. All lookups and updates
// address records by run id; implementations backed by the composite-key store
// resolve the primary key through the run-id index first.
type Repo interface {
	Create(ctx context.Context, run Run) error
	GetByRunID(ctx context.Context, runID string) (Run, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Run, error)

	MarkExtracted(ctx context.Context, runID, textKey, method, textSummary string, at time.Time) error
	MarkProcessingAsync(ctx context.Context, runID string, at time.Time) error
	MarkAnalyzing(ctx context.Context, runID, model string, at time.Time) error
	MarkCompleted(ctx context.Context, runID, analysisKey, method, resultPreview string, at time.Time) error
	MarkFailed(ctx context.Context, runID, errorMessage string, at time.Time) error

	// Claim conditionally transitions the run into toStatus (ANALYZING or
	// PROCESSING_ASYNC) and reports whether the claim won. A claim only
	// succeeds from EXTRACTED or FAILED, closing the duplicate-dispatch race
	// between near-simultaneous requests for the same run.
	Claim(ctx context.Context, runID, toStatus string, at time.Time) (bool, error)

	// MarkStep records a diagnostic breadcrumb; failures are non-fatal for
	// callers and implementations should keep it cheap.
	MarkStep(ctx context.Context, runID, step string, ok bool, details string) error
}

// claimable reports whether a run in the given status may be claimed for analysis.
func claimable(status string) bool {
	return status == StatusExtracted || status == StatusFailed
}
