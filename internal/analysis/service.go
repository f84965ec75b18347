package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"aspor-backend/internal/dispatch"
	"aspor-backend/internal/extraction"
	"aspor-backend/internal/llm"
	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/storage/object"
	"aspor-backend/internal/shared/telemetry"
	"aspor-backend/internal/shared/util"
)

// Analysis methods recorded on the run.
const (
	MethodTextAnalysis       = "text_analysis"
	MethodBedrockVision      = "bedrock_vision"
	MethodAsyncBedrockVision = "async_bedrock_vision"
)

const (
	minValidTextLen  = 50
	maxPromptText    = 15000
	previewLen       = 1000
	maxErrMessageLen = 500

	textMaxTokens   = 4000
	visionMaxTokens = 10000
	temperature     = 0.1
	topP            = 0.9
)

// ErrNoSource indicates neither usable text nor the original document was
// available for analysis.
var ErrNoSource = errors.New("no valid text or document available")

// charCountPlaceholder matches the "<N> caracteres" summary the extraction
// step records; it is a length note, never analysis input.
var charCountPlaceholder = regexp.MustCompile(`^\d+ caracteres$`)

// AnalysisKey returns the conventional blob key for a run's analysis result.
func AnalysisKey(runID string) string {
	return "analysis/" + runID + ".txt"
}

// Service is the analysis orchestrator.
type Service struct {
	Runs       runs.Repo
	Store      object.ObjectStore
	LLM        llm.Client
	Dispatcher dispatch.Dispatcher

	Now func() time.Time
}

// Request is one analysis invocation.
type Request struct {
	RunID   string
	UserID  string
	Model   string
	TextKey string
	Async   bool
}

// Outcome is what the analysis caller receives.
type Outcome struct {
	RunID   string `json:"runId"`
	Status  string `json:"status"`
	Result  string `json:"result,omitempty"`
	Method  string `json:"analysisMethod,omitempty"`
	Cached  bool   `json:"cached,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Analyze handles a caller-facing analysis request: dedupe against prior
// state, then either run inline or hand off to the background worker.
func (s *Service) Analyze(ctx context.Context, req Request) (Outcome, error) {
	if !ValidModel(req.Model) {
		return Outcome{}, fmt.Errorf("invalid model selector %q", req.Model)
	}

	run, err := s.Runs.GetByRunID(ctx, req.RunID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load run %s: %w", req.RunID, err)
	}

	if out, done := s.shortCircuit(ctx, run); done {
		return out, nil
	}

	if req.Async {
		won, err := s.Runs.Claim(ctx, run.RunID, runs.StatusProcessingAsync, s.now())
		if err != nil {
			return Outcome{}, fmt.Errorf("claim run %s: %w", run.RunID, err)
		}
		if !won {
			return s.afterLostClaim(ctx, run.RunID)
		}
		if err := s.Dispatcher.Dispatch(ctx, dispatch.Message{
			RunID:      run.RunID,
			UserID:     req.UserID,
			Model:      req.Model,
			EnqueuedAt: s.now(),
		}); err != nil {
			msg := truncateErr(fmt.Errorf("dispatch background analysis: %w", err))
			_ = s.Runs.MarkFailed(ctx, run.RunID, msg, s.now())
			return Outcome{}, errors.New(msg)
		}
		telemetry.Info("analysis dispatched", map[string]any{"run_id": run.RunID, "model": req.Model})
		return Outcome{
			RunID:   run.RunID,
			Status:  runs.StatusProcessingAsync,
			Message: "Análisis en procesamiento asíncrono",
		}, nil
	}

	won, err := s.Runs.Claim(ctx, run.RunID, runs.StatusAnalyzing, s.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("claim run %s: %w", run.RunID, err)
	}
	if !won {
		return s.afterLostClaim(ctx, run.RunID)
	}
	if err := s.Runs.MarkAnalyzing(ctx, run.RunID, req.Model, s.now()); err != nil {
		return Outcome{}, fmt.Errorf("mark analyzing: %w", err)
	}

	return s.run(ctx, run, req.Model, req.TextKey, false)
}

// ProcessAsync is the background-worker entry: same resolution and invocation
// logic, but failures only update the record since there is no caller.
func (s *Service) ProcessAsync(ctx context.Context, m dispatch.Message) error {
	run, err := s.Runs.GetByRunID(ctx, m.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", m.RunID, err)
	}
	if run.Status == runs.StatusCompleted {
		return nil
	}
	if err := s.Runs.MarkAnalyzing(ctx, run.RunID, m.Model, s.now()); err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}
	_, err = s.run(ctx, run, m.Model, "", true)
	return err
}

// shortCircuit applies the dedupe rules before any dispatch.
func (s *Service) shortCircuit(ctx context.Context, run runs.Run) (Outcome, bool) {
	switch run.Status {
	case runs.StatusCompleted:
		return s.cachedOutcome(ctx, run), true
	case runs.StatusExtracting:
		return Outcome{
			RunID:   run.RunID,
			Status:  run.Status,
			Message: "La extracción del documento aún no ha terminado. Consulta el estado más tarde.",
		}, true
	case runs.StatusAnalyzing, runs.StatusProcessingAsync:
		return Outcome{
			RunID:   run.RunID,
			Status:  run.Status,
			Message: "El análisis ya está en proceso. Consulta el estado más tarde.",
		}, true
	}
	return Outcome{}, false
}

// afterLostClaim re-reads the record when a concurrent request won the claim,
// so the caller still gets a coherent cached or still-processing answer.
func (s *Service) afterLostClaim(ctx context.Context, runID string) (Outcome, error) {
	run, err := s.Runs.GetByRunID(ctx, runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload run %s: %w", runID, err)
	}
	if out, done := s.shortCircuit(ctx, run); done {
		return out, nil
	}
	return Outcome{
		RunID:   runID,
		Status:  run.Status,
		Message: "El análisis ya está en proceso. Consulta el estado más tarde.",
	}, nil
}

func (s *Service) cachedOutcome(ctx context.Context, run runs.Run) Outcome {
	result := run.ResultPreview
	if full, err := object.ReadText(ctx, s.Store, AnalysisKey(run.RunID)); err == nil && strings.TrimSpace(full) != "" {
		result = full
	}
	return Outcome{
		RunID:  run.RunID,
		Status: runs.StatusCompleted,
		Result: result,
		Method: run.AnalysisMethod,
		Cached: true,
	}
}

// run resolves a text source, invokes the model, and persists the result.
func (s *Service) run(ctx context.Context, run runs.Run, model, textKey string, async bool) (Outcome, error) {
	result, method, err := s.invoke(ctx, run, model, textKey, async)
	if err != nil {
		msg := truncateErr(err)
		telemetry.Error("analysis failed", map[string]any{
			"run_id": run.RunID,
			"model":  model,
			"error":  err.Error(),
		})
		_ = s.Runs.MarkStep(ctx, run.RunID, "analysis", false, method)
		if markErr := s.Runs.MarkFailed(ctx, run.RunID, msg, s.now()); markErr != nil {
			telemetry.Error("mark failed", map[string]any{"run_id": run.RunID, "error": markErr.Error()})
		}
		return Outcome{RunID: run.RunID, Status: runs.StatusFailed, Message: msg}, err
	}

	key := AnalysisKey(run.RunID)
	if _, err := s.Store.Save(ctx, key, "text/plain; charset=utf-8", strings.NewReader(result)); err != nil {
		saveErr := fmt.Errorf("save analysis: %w", err)
		_ = s.Runs.MarkFailed(ctx, run.RunID, truncateErr(saveErr), s.now())
		return Outcome{}, saveErr
	}

	preview := util.CapRunes(result, previewLen)
	if err := s.Runs.MarkCompleted(ctx, run.RunID, key, method, preview, s.now()); err != nil {
		return Outcome{}, fmt.Errorf("mark completed: %w", err)
	}
	_ = s.Runs.MarkStep(ctx, run.RunID, "analysis", true, method)

	telemetry.Info("analysis completed", map[string]any{
		"run_id": run.RunID,
		"model":  model,
		"method": method,
		"length": len(result),
	})
	return Outcome{
		RunID:  run.RunID,
		Status: runs.StatusCompleted,
		Result: result,
		Method: method,
	}, nil
}

func (s *Service) invoke(ctx context.Context, run runs.Run, model, textKey string, async bool) (string, string, error) {
	prompt := s.loadPrompt(ctx, model)

	if text, ok := s.resolveText(ctx, run, textKey); ok {
		full := prompt + "\n\nTexto del documento:\n" + util.Truncate(text, maxPromptText, "")
		out, err := s.LLM.Generate(ctx, llm.GenerateInput{
			Prompt:      full,
			MaxTokens:   textMaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return "", MethodTextAnalysis, fmt.Errorf("text analysis: %w", err)
		}
		return out, MethodTextAnalysis, nil
	}

	if run.FileKey == "" {
		return "", "", ErrNoSource
	}

	data, err := object.ReadAll(ctx, s.Store, run.FileKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: read document: %v", ErrNoSource, err)
	}
	method := MethodBedrockVision
	if async {
		method = MethodAsyncBedrockVision
	}
	out, err := s.LLM.Generate(ctx, llm.GenerateInput{
		Prompt: prompt,
		Document: &llm.Document{
			MediaType: extraction.MediaType(run.FileType),
			Data:      base64.StdEncoding.EncodeToString(data),
		},
		MaxTokens:   visionMaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return "", method, fmt.Errorf("vision analysis: %w", err)
	}
	return out, method, nil
}

// resolveText walks the text-source preference order: explicit caller key,
// then the text field stored on the record, then the conventional blob path.
func (s *Service) resolveText(ctx context.Context, run runs.Run, textKey string) (string, bool) {
	if textKey != "" {
		if text, err := object.ReadText(ctx, s.Store, textKey); err == nil && usableText(text) {
			return text, true
		}
	}

	if run.TextSummary != "" && !charCountPlaceholder.MatchString(strings.TrimSpace(run.TextSummary)) && usableText(run.TextSummary) {
		return run.TextSummary, true
	}

	if text, err := object.ReadText(ctx, s.Store, extraction.TextKey(run.RunID)); err == nil && usableText(text) {
		return text, true
	}
	return "", false
}

// usableText rejects error markers and below-threshold fragments.
func usableText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "Error:") {
		return false
	}
	return len(trimmed) >= minValidTextLen
}

func truncateErr(err error) string {
	return util.CapRunes(err.Error(), maxErrMessageLen)
}
