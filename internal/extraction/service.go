package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"aspor-backend/internal/dispatch"
	"aspor-backend/internal/llm"
	"aspor-backend/internal/ocr"
	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/storage/object"
	"aspor-backend/internal/shared/telemetry"
	"aspor-backend/internal/shared/util"
)

// Extraction methods recorded on the run.
const (
	MethodPDFText         = "pdf_text"
	MethodTextract        = "textract"
	MethodTextractAsync   = "textract_async"
	MethodTextractAnalyze = "textract_analyze"
	MethodBedrockDirect   = "bedrock_direct"
	MethodUnsupported     = "unsupported"
)

const (
	// MinTextLength is the acceptance threshold applied to every strategy.
	MinTextLength = 50
	// MaxTextLength caps stored extracted text.
	MaxTextLength = 15000
	// TruncationMarker is appended when the cap is enforced.
	TruncationMarker = "\n\n[Texto truncado por límite de caracteres]"
	// EmptyPlaceholder replaces an empty extraction so downstream consumers
	// never see an empty blob.
	EmptyPlaceholder = "No se pudo extraer texto del documento. Por favor, verifica que el documento contiene texto legible."

	docxPlaceholder   = "DOCX files require preprocessing. Please convert to PDF and try again."
	visionInstruction = "Extrae TODO el texto de este documento. Incluye texto de imágenes escaneadas. Devuelve SOLO el texto extraído sin comentarios adicionales."

	syncDetectTimeout = 3 * time.Second
	pollAttempts      = 6
	pollInitialDelay  = 500 * time.Millisecond
	pollGrowthFactor  = 1.5
	pollMaxDelay      = 2 * time.Second
	visionMaxBytes    = 4_500_000
	deferThreshold    = 15 * time.Second

	visionMaxTokens   = 4000
	visionTemperature = 0.1
	visionTopP        = 0.9
)

// TextKey returns the conventional blob key for a run's extracted text.
func TextKey(runID string) string {
	return "extracted/" + runID + ".txt"
}

// Service is the extraction orchestrator. It walks an ordered strategy ladder
// per file type until one strategy yields acceptable text, then persists the
// text blob and the run record transition.
type Service struct {
	Runs       runs.Repo
	Store      object.ObjectStore
	OCR        ocr.Client
	Vision     llm.Client
	Dispatcher dispatch.Dispatcher
	Bucket     string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the outcome reported to the extraction caller.
type Result struct {
	RunID      string `json:"runId"`
	Status     string `json:"status"`
	TextKey    string `json:"textKey,omitempty"`
	TextLength int    `json:"textLength,omitempty"`
	Method     string `json:"extractionMethod,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start creates the run record and executes the fallback ladder. On success
// the run is EXTRACTED; when the remaining budget is too small for the vision
// rung the run is handed off to the background worker and reported
// PROCESSING_ASYNC. Failures are recorded on the run as a translated message
// and returned as the error.
func (s *Service) Start(ctx context.Context, userID, fileKey string) (Result, error) {
	fileType := util.FileExtension(fileKey)
	run := runs.New(userID, fileKey, fileType, s.now())
	if err := s.Runs.Create(ctx, run); err != nil {
		return Result{}, fmt.Errorf("create run: %w", err)
	}

	text, method, deferred, err := s.extract(ctx, run)
	if err != nil {
		msg := UserMessage(err)
		telemetry.Error("extraction failed", map[string]any{
			"run_id": run.RunID,
			"file":   fileKey,
			"error":  err.Error(),
		})
		_ = s.Runs.MarkStep(ctx, run.RunID, "extraction", false, method)
		if markErr := s.Runs.MarkFailed(ctx, run.RunID, msg, s.now()); markErr != nil {
			telemetry.Error("mark failed", map[string]any{"run_id": run.RunID, "error": markErr.Error()})
		}
		return Result{RunID: run.RunID, Status: runs.StatusFailed, Message: msg}, errors.New(msg)
	}

	if deferred {
		if err := s.Runs.MarkProcessingAsync(ctx, run.RunID, s.now()); err != nil {
			return Result{}, fmt.Errorf("mark processing async: %w", err)
		}
		if s.Dispatcher != nil {
			if err := s.Dispatcher.Dispatch(ctx, dispatch.Message{
				RunID:      run.RunID,
				UserID:     userID,
				EnqueuedAt: s.now(),
			}); err != nil {
				telemetry.Error("dispatch deferred extraction", map[string]any{"run_id": run.RunID, "error": err.Error()})
			}
		}
		telemetry.Info("extraction deferred", map[string]any{"run_id": run.RunID, "file": fileKey})
		return Result{
			RunID:   run.RunID,
			Status:  runs.StatusProcessingAsync,
			Message: "Documento en procesamiento asíncrono",
		}, nil
	}

	return s.finish(ctx, run.RunID, text, method)
}

// FinishDeferred completes a run that was handed off to the background worker.
// It runs only the vision rung with the worker's larger budget.
func (s *Service) FinishDeferred(ctx context.Context, runID string) (Result, error) {
	run, err := s.Runs.GetByRunID(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	text, err := s.visionExtract(ctx, run)
	if err != nil {
		msg := UserMessage(err)
		_ = s.Runs.MarkStep(ctx, runID, "extraction", false, MethodBedrockDirect)
		if markErr := s.Runs.MarkFailed(ctx, runID, msg, s.now()); markErr != nil {
			telemetry.Error("mark failed", map[string]any{"run_id": runID, "error": markErr.Error()})
		}
		return Result{RunID: runID, Status: runs.StatusFailed, Message: msg}, errors.New(msg)
	}
	return s.finish(ctx, runID, text, MethodBedrockDirect)
}

func (s *Service) finish(ctx context.Context, runID, text, method string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		text = EmptyPlaceholder
	}
	text = util.Truncate(text, MaxTextLength, TruncationMarker)

	textKey := TextKey(runID)
	if _, err := s.Store.Save(ctx, textKey, "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
		return Result{}, fmt.Errorf("save extracted text: %w", err)
	}

	summary := fmt.Sprintf("%d caracteres", len(text))
	if err := s.Runs.MarkExtracted(ctx, runID, textKey, method, summary, s.now()); err != nil {
		return Result{}, fmt.Errorf("mark extracted: %w", err)
	}
	_ = s.Runs.MarkStep(ctx, runID, "extraction", true, method)

	telemetry.Info("extraction completed", map[string]any{
		"run_id": runID,
		"method": method,
		"length": len(text),
	})
	return Result{
		RunID:      runID,
		Status:     runs.StatusExtracted,
		TextKey:    textKey,
		TextLength: len(text),
		Method:     method,
	}, nil
}

// strategy is one rung of the fallback ladder.
type strategy struct {
	name string
	// afterUnsupported restricts the rung to runs where a prior rung raised
	// the unsupported-document condition.
	afterUnsupported bool
	// minBudget defers to background processing when the remaining request
	// budget is below it.
	minBudget time.Duration
	run       func(ctx context.Context, run runs.Run) (string, error)
}

func (s *Service) ladder(fileType string) []strategy {
	pdfText := strategy{name: MethodPDFText, run: s.pdfTextExtract}
	sync := strategy{name: MethodTextract, run: s.syncExtract}
	async := strategy{name: MethodTextractAsync, run: s.asyncExtract}
	analyze := strategy{name: MethodTextractAnalyze, afterUnsupported: true, run: s.structuredExtract}
	vision := strategy{name: MethodBedrockDirect, minBudget: deferThreshold, run: s.visionExtract}

	switch fileType {
	case "pdf":
		return []strategy{pdfText, sync, async, analyze, vision}
	case "png", "jpg", "jpeg", "tiff", "bmp":
		return []strategy{sync, vision}
	default:
		return []strategy{sync, vision}
	}
}

// extract walks the ladder. It returns the accepted text and method, or
// deferred=true when the vision rung could not be attempted in the remaining
// budget, or the last strategy error when no rung produced usable text.
func (s *Service) extract(ctx context.Context, run runs.Run) (text, method string, deferred bool, err error) {
	if run.FileType == "docx" {
		return docxPlaceholder, MethodUnsupported, false, nil
	}

	var (
		lastErr     error
		unsupported bool
	)
	for _, rung := range s.ladder(run.FileType) {
		if rung.afterUnsupported && !unsupported {
			continue
		}
		if rung.minBudget > 0 && remaining(ctx) < rung.minBudget {
			return "", "", true, nil
		}

		out, runErr := rung.run(ctx, run)
		lastErr = runErr
		if runErr != nil {
			telemetry.Warn("extraction strategy failed", map[string]any{
				"run_id":   run.RunID,
				"strategy": rung.name,
				"error":    runErr.Error(),
			})
			if errors.Is(runErr, ocr.ErrUnsupportedDocument) {
				unsupported = true
			}
			continue
		}
		if len(strings.TrimSpace(out)) >= MinTextLength {
			return out, rung.name, false, nil
		}
	}

	if lastErr == nil {
		// The ladder finished cleanly but produced no usable text; the
		// placeholder takes over downstream.
		return "", MethodTextract, false, nil
	}
	return "", "", false, lastErr
}

func (s *Service) pdfTextExtract(ctx context.Context, run runs.Run) (string, error) {
	data, err := object.ReadAll(ctx, s.Store, run.FileKey)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return pdfPlainText(data)
}

func (s *Service) syncExtract(ctx context.Context, run runs.Run) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, syncDetectTimeout)
	defer cancel()
	return s.OCR.DetectText(ctx, s.Bucket, run.FileKey)
}

func (s *Service) asyncExtract(ctx context.Context, run runs.Run) (string, error) {
	jobID, err := s.OCR.StartTextDetection(ctx, s.Bucket, run.FileKey)
	if err != nil {
		return "", err
	}

	delay := pollInitialDelay
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if err := s.sleep(ctx, delay); err != nil {
			return "", err
		}
		job, err := s.OCR.GetTextDetection(ctx, jobID)
		if err != nil {
			return "", err
		}
		switch job.Status {
		case ocr.JobSucceeded:
			return job.Text, nil
		case ocr.JobFailed:
			return "", fmt.Errorf("text detection job failed: %s", job.StatusMessage)
		}
		delay = time.Duration(float64(delay) * pollGrowthFactor)
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
	return "", fmt.Errorf("text detection job %s is taking too long", jobID)
}

func (s *Service) structuredExtract(ctx context.Context, run runs.Run) (string, error) {
	return s.OCR.AnalyzeStructured(ctx, s.Bucket, run.FileKey)
}

func (s *Service) visionExtract(ctx context.Context, run runs.Run) (string, error) {
	data, err := object.ReadAll(ctx, s.Store, run.FileKey)
	if err != nil {
		return "", fmt.Errorf("read document for vision: %w", err)
	}
	if len(data) > visionMaxBytes {
		return "", fmt.Errorf("document too large for vision extraction: %d bytes", len(data))
	}

	out, err := s.Vision.Generate(ctx, llm.GenerateInput{
		Prompt: visionInstruction,
		Document: &llm.Document{
			MediaType: MediaType(run.FileType),
			Data:      base64.StdEncoding.EncodeToString(data),
		},
		MaxTokens:   visionMaxTokens,
		Temperature: visionTemperature,
		TopP:        visionTopP,
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction: %w", err)
	}
	return out, nil
}

// MediaType maps a file extension to the attachment MIME type.
func MediaType(fileType string) string {
	switch fileType {
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(deadline)
}
