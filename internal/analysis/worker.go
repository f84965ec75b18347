package analysis

import (
	"context"
	"fmt"

	"aspor-backend/internal/dispatch"
	"aspor-backend/internal/extraction"
	"aspor-backend/internal/shared/telemetry"
)

// Worker consumes dispatched background messages. A message with a model
// selector is an analysis hand-off; one without is a deferred extraction that
// ran out of request budget.
type Worker struct {
	Analyzer  *Service
	Extractor *extraction.Service
}

// Process handles one message.
func (w *Worker) Process(ctx context.Context, m dispatch.Message) error {
	if m.RunID == "" {
		return fmt.Errorf("message missing runId")
	}
	telemetry.Info("worker message", map[string]any{
		"run_id": m.RunID,
		"model":  m.Model,
	})

	if m.Model == "" {
		_, err := w.Extractor.FinishDeferred(ctx, m.RunID)
		return err
	}
	return w.Analyzer.ProcessAsync(ctx, m)
}
