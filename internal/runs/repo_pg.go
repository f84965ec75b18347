package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `run_id, user_id, status, file_key, file_type, text_key, analysis_key,
       model, extraction_method, analysis_method, text_summary, result_preview,
       error_message, steps, created_at, extracted_at, analyzing_at, async_initiated_at,
       completed_at, failed_at`

// Create inserts a new run record.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO runs (
	run_id, user_id, status, file_key, file_type, text_key, analysis_key,
	model, extraction_method, analysis_method, text_summary, result_preview,
	error_message, steps, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	steps, err := marshalSteps(run.Steps)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		run.RunID,
		run.UserID,
		run.Status,
		run.FileKey,
		run.FileType,
		run.TextKey,
		run.AnalysisKey,
		run.Model,
		run.ExtractionMethod,
		run.AnalysisMethod,
		run.TextSummary,
		run.ResultPreview,
		run.ErrorMessage,
		steps,
		run.CreatedAt,
	)
	return err
}

// GetByRunID returns a run by its ID.
func (r *PGRepo) GetByRunID(ctx context.Context, runID string) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1 LIMIT 1`
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// ListByUser lists runs for a user, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// MarkExtracted records a successful extraction.
func (r *PGRepo) MarkExtracted(ctx context.Context, runID, textKey, method, textSummary string, at time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    text_key = $2,
    extraction_method = $3,
    text_summary = $4,
    extracted_at = $5
WHERE run_id = $6`
	return r.exec(ctx, query, StatusExtracted, textKey, method, textSummary, at, runID)
}

// MarkProcessingAsync records the deferred hand-off to background processing.
func (r *PGRepo) MarkProcessingAsync(ctx context.Context, runID string, at time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    async_initiated_at = $2
WHERE run_id = $3`
	return r.exec(ctx, query, StatusProcessingAsync, at, runID)
}

// MarkAnalyzing records the start of synchronous analysis.
func (r *PGRepo) MarkAnalyzing(ctx context.Context, runID, model string, at time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    model = $2,
    analyzing_at = $3
WHERE run_id = $4`
	return r.exec(ctx, query, StatusAnalyzing, model, at, runID)
}

// MarkCompleted records a successful analysis.
func (r *PGRepo) MarkCompleted(ctx context.Context, runID, analysisKey, method, resultPreview string, at time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    analysis_key = $2,
    analysis_method = $3,
    result_preview = $4,
    error_message = '',
    completed_at = $5
WHERE run_id = $6`
	return r.exec(ctx, query, StatusCompleted, analysisKey, method, resultPreview, at, runID)
}

// MarkFailed records a terminal failure.
func (r *PGRepo) MarkFailed(ctx context.Context, runID, errorMessage string, at time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    error_message = $2,
    failed_at = $3
WHERE run_id = $4`
	return r.exec(ctx, query, StatusFailed, errorMessage, at, runID)
}

// Claim conditionally transitions the run into toStatus. The status check and
// the update run as a single statement, so concurrent claimers race on the row
// and exactly one wins.
func (r *PGRepo) Claim(ctx context.Context, runID, toStatus string, at time.Time) (bool, error) {
	tsColumn := "async_initiated_at"
	if toStatus == StatusAnalyzing {
		tsColumn = "analyzing_at"
	}

	query := `
UPDATE runs
SET status = $1,
    ` + tsColumn + ` = $2
WHERE run_id = $3 AND status IN ($4, $5)`

	res, err := r.DB.ExecContext(ctx, query, toStatus, at, runID, StatusExtracted, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkStep records a diagnostic breadcrumb in the steps JSONB column.
func (r *PGRepo) MarkStep(ctx context.Context, runID, step string, ok bool, details string) error {
	const query = `
UPDATE runs
SET steps = COALESCE(steps, '{}'::jsonb) || jsonb_build_object($1::text, $2::jsonb)
WHERE run_id = $3`

	mark, err := json.Marshal(Step{OK: ok, Details: details, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.exec(ctx, query, step, mark, runID)
}

func (r *PGRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var steps sql.NullString
	var extractedAt, analyzingAt, asyncInitiatedAt, completedAt, failedAt sql.NullTime
	err := row.Scan(
		&run.RunID,
		&run.UserID,
		&run.Status,
		&run.FileKey,
		&run.FileType,
		&run.TextKey,
		&run.AnalysisKey,
		&run.Model,
		&run.ExtractionMethod,
		&run.AnalysisMethod,
		&run.TextSummary,
		&run.ResultPreview,
		&run.ErrorMessage,
		&steps,
		&run.CreatedAt,
		&extractedAt,
		&analyzingAt,
		&asyncInitiatedAt,
		&completedAt,
		&failedAt,
	)
	if err != nil {
		return Run{}, err
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &run.Steps); err != nil {
			run.Steps = nil
		}
	}
	if extractedAt.Valid {
		run.ExtractedAt = &extractedAt.Time
	}
	if analyzingAt.Valid {
		run.AnalyzingAt = &analyzingAt.Time
	}
	if asyncInitiatedAt.Valid {
		run.AsyncInitiatedAt = &asyncInitiatedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		run.FailedAt = &failedAt.Time
	}
	run.PK = UserPK(run.UserID)
	run.SK = RunSK(run.CreatedAt, run.RunID)
	return run, nil
}

func marshalSteps(steps map[string]Step) ([]byte, error) {
	if steps == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(steps)
}

var _ Repo = (*PGRepo)(nil)
