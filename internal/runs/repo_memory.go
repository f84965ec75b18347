package runs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores run records in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Run
	byUser map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Run),
		byUser: make(map[string][]string),
	}
}

// Create stores the run record.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[run.RunID] = run
	r.byUser[run.UserID] = append(r.byUser[run.UserID], run.RunID)
	return nil
}

// GetByRunID returns a run by its run id.
func (r *MemoryRepo) GetByRunID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// ListByUser returns runs for a user, newest first, bounded by limit.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.byUser[userID]
	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		if run, ok := r.byID[id]; ok {
			out = append(out, run)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkExtracted records a successful extraction.
func (r *MemoryRepo) MarkExtracted(ctx context.Context, runID, textKey, method, textSummary string, at time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusExtracted
		run.TextKey = textKey
		run.ExtractionMethod = method
		run.TextSummary = textSummary
		run.ExtractedAt = &at
	})
}

// MarkProcessingAsync records the deferred hand-off to background processing.
func (r *MemoryRepo) MarkProcessingAsync(ctx context.Context, runID string, at time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusProcessingAsync
		run.AsyncInitiatedAt = &at
	})
}

// MarkAnalyzing records the start of synchronous analysis.
func (r *MemoryRepo) MarkAnalyzing(ctx context.Context, runID, model string, at time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusAnalyzing
		run.Model = model
		run.AnalyzingAt = &at
	})
}

// MarkCompleted records a successful analysis.
func (r *MemoryRepo) MarkCompleted(ctx context.Context, runID, analysisKey, method, resultPreview string, at time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusCompleted
		run.AnalysisKey = analysisKey
		run.AnalysisMethod = method
		run.ResultPreview = resultPreview
		run.CompletedAt = &at
		run.ErrorMessage = ""
	})
}

// MarkFailed records a terminal failure.
func (r *MemoryRepo) MarkFailed(ctx context.Context, runID, errorMessage string, at time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusFailed
		run.ErrorMessage = errorMessage
		run.FailedAt = &at
	})
}

// Claim conditionally transitions the run into toStatus.
func (r *MemoryRepo) Claim(ctx context.Context, runID, toStatus string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return false, ErrNotFound
	}
	if !claimable(run.Status) {
		return false, nil
	}
	run.Status = toStatus
	switch toStatus {
	case StatusAnalyzing:
		run.AnalyzingAt = &at
	case StatusProcessingAsync:
		run.AsyncInitiatedAt = &at
	}
	r.byID[runID] = run
	return true, nil
}

// MarkStep records a diagnostic breadcrumb.
func (r *MemoryRepo) MarkStep(ctx context.Context, runID, step string, ok bool, details string) error {
	return r.update(ctx, runID, func(run *Run) {
		if run.Steps == nil {
			run.Steps = make(map[string]Step)
		}
		run.Steps[step] = Step{OK: ok, Details: details, At: time.Now().UTC()}
	})
}

func (r *MemoryRepo) update(ctx context.Context, runID string, apply func(*Run)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	apply(&run)
	r.byID[runID] = run
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
