package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aspor-backend/internal/analysis"
	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/storage/object"
)

// Projection is the read-only view of a run returned to polling clients.
type Projection struct {
	RunID            string               `json:"runId"`
	Status           string               `json:"status"`
	Model            string               `json:"model,omitempty"`
	ExtractionMethod string               `json:"extractionMethod,omitempty"`
	AnalysisMethod   string               `json:"analysisMethod,omitempty"`
	Result           string               `json:"result,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	Progress         *Progress            `json:"progress,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	ExtractedAt      *time.Time           `json:"extractedAt,omitempty"`
	AnalyzingAt      *time.Time           `json:"analyzingAt,omitempty"`
	AsyncInitiatedAt *time.Time           `json:"asyncInitiated,omitempty"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	FailedAt         *time.Time           `json:"failedAt,omitempty"`
	Steps            map[string]runs.Step `json:"steps,omitempty"`
}

// Progress carries coarse diagnostic flags for in-flight runs. They are
// best-effort breadcrumbs, not authoritative percentages.
type Progress struct {
	ExtractionStarted   bool `json:"extractionStarted"`
	ExtractionCompleted bool `json:"extractionCompleted"`
	AnalysisStarted     bool `json:"analysisStarted"`
}

// Service resolves status projections.
type Service struct {
	Runs  runs.Repo
	Store object.ObjectStore
}

// Get projects the run for polling clients. A completed run with no readable
// result is reported COMPLETED_NO_RESULT rather than silently empty.
func (s *Service) Get(ctx context.Context, runID string) (Projection, error) {
	run, err := s.Runs.GetByRunID(ctx, runID)
	if err != nil {
		return Projection{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	p := Projection{
		RunID:            run.RunID,
		Status:           run.Status,
		Model:            run.Model,
		ExtractionMethod: run.ExtractionMethod,
		AnalysisMethod:   run.AnalysisMethod,
		ErrorMessage:     run.ErrorMessage,
		CreatedAt:        run.CreatedAt,
		ExtractedAt:      run.ExtractedAt,
		AnalyzingAt:      run.AnalyzingAt,
		AsyncInitiatedAt: run.AsyncInitiatedAt,
		CompletedAt:      run.CompletedAt,
		FailedAt:         run.FailedAt,
		Steps:            run.Steps,
	}

	if run.Status == runs.StatusCompleted {
		p.Result = s.resolveResult(ctx, run)
		if strings.TrimSpace(p.Result) == "" {
			p.Status = runs.StatusCompletedNoResult
		}
		return p, nil
	}

	if run.InFlight() {
		p.Progress = &Progress{
			ExtractionStarted:   true,
			ExtractionCompleted: run.ExtractedAt != nil,
			AnalysisStarted:     run.AnalyzingAt != nil || run.AsyncInitiatedAt != nil,
		}
	}
	return p, nil
}

// resolveResult prefers the cached preview on the record and falls back to
// the conventional analysis blob path.
func (s *Service) resolveResult(ctx context.Context, run runs.Run) string {
	if strings.TrimSpace(run.ResultPreview) != "" {
		return run.ResultPreview
	}
	key := run.AnalysisKey
	if key == "" {
		key = analysis.AnalysisKey(run.RunID)
	}
	if text, err := object.ReadText(ctx, s.Store, key); err == nil {
		return text
	}
	return ""
}
