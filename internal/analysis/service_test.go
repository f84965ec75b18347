package analysis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"aspor-backend/internal/dispatch"
	"aspor-backend/internal/llm"
	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/storage/object"
)

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (s *memStore) Save(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return int64(len(data)), nil
}

func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var _ object.ObjectStore = (*memStore)(nil)

type fakeLLM struct {
	out    string
	err    error
	calls  int
	inputs []llm.GenerateInput
}

func (f *fakeLLM) Generate(ctx context.Context, input llm.GenerateInput) (string, error) {
	f.calls++
	f.inputs = append(f.inputs, input)
	return f.out, f.err
}

func (f *fakeLLM) last() llm.GenerateInput {
	return f.inputs[len(f.inputs)-1]
}

type fakeDispatcher struct {
	calls int
	msgs  []dispatch.Message
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, m dispatch.Message) error {
	f.calls++
	f.msgs = append(f.msgs, m)
	return nil
}

func newTestService(t *testing.T) (*Service, *runs.MemoryRepo, *memStore, *fakeLLM, *fakeDispatcher) {
	t.Helper()
	repo := runs.NewMemoryRepo()
	store := newMemStore()
	llmClient := &fakeLLM{out: "análisis generado"}
	disp := &fakeDispatcher{}
	svc := &Service{
		Runs:       repo,
		Store:      store,
		LLM:        llmClient,
		Dispatcher: disp,
	}
	return svc, repo, store, llmClient, disp
}

func seedBlob(t *testing.T, store *memStore, key, content string) {
	t.Helper()
	if _, err := store.Save(context.Background(), key, "text/plain", strings.NewReader(content)); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func seedExtractedRun(t *testing.T, repo *runs.MemoryRepo, store *memStore, text string) runs.Run {
	t.Helper()
	ctx := context.Background()
	run := runs.New("user-1", "uploads/u1/doc.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	key := "extracted/" + run.RunID + ".txt"
	if text != "" {
		seedBlob(t, store, key, text)
	}
	if err := repo.MarkExtracted(ctx, run.RunID, key, "textract", "1200 caracteres", time.Now().UTC()); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}
	updated, err := repo.GetByRunID(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	return updated
}

func TestAnalyzeTextPath(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	text := strings.Repeat("contrato de contragarantía ", 20)
	run := seedExtractedRun(t, repo, store, text)

	out, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Status != runs.StatusCompleted || out.Method != MethodTextAnalysis {
		t.Fatalf("outcome = %+v", out)
	}
	if llmClient.calls != 1 {
		t.Fatalf("llm calls = %d", llmClient.calls)
	}
	input := llmClient.last()
	if input.Document != nil {
		t.Fatal("text path must not attach a document")
	}
	if !strings.Contains(input.Prompt, "contragarantías") || !strings.Contains(input.Prompt, "Texto del documento:") {
		t.Fatalf("prompt = %q", input.Prompt[:200])
	}
	if input.MaxTokens != textMaxTokens {
		t.Fatalf("maxTokens = %d", input.MaxTokens)
	}

	stored, err := object.ReadText(context.Background(), store, AnalysisKey(run.RunID))
	if err != nil {
		t.Fatalf("read analysis blob: %v", err)
	}
	if stored != "análisis generado" {
		t.Fatalf("stored = %q", stored)
	}
	got, _ := repo.GetByRunID(context.Background(), run.RunID)
	if got.Status != runs.StatusCompleted || got.AnalysisMethod != MethodTextAnalysis || got.Model != ModelContragarantias {
		t.Fatalf("run = %+v", got)
	}
}

func TestAnalyzePreviewCapped(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	llmClient.out = strings.Repeat("r", 5000)
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto válido ", 10))

	if _, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelInformesSociales}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, _ := repo.GetByRunID(context.Background(), run.RunID)
	if len(got.ResultPreview) != previewLen {
		t.Fatalf("preview length = %d, want %d", len(got.ResultPreview), previewLen)
	}
	stored, _ := object.ReadText(context.Background(), store, AnalysisKey(run.RunID))
	if len(stored) != 5000 {
		t.Fatalf("stored length = %d", len(stored))
	}
}

func TestAnalyzePreviewAccentedTextStaysValidUTF8(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	llmClient.out = strings.Repeat("á", 1500)
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto válido ", 10))

	if _, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelInformesSociales}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, _ := repo.GetByRunID(context.Background(), run.RunID)
	if !utf8.ValidString(got.ResultPreview) {
		t.Fatal("preview is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got.ResultPreview); n != previewLen {
		t.Fatalf("preview rune count = %d, want %d", n, previewLen)
	}
}

func TestAnalyzePrefersExplicitTextKey(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto por defecto ", 10))
	seedBlob(t, store, "custom/override.txt", strings.Repeat("texto explícito del llamador ", 10))

	if _, err := svc.Analyze(context.Background(), Request{
		RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias, TextKey: "custom/override.txt",
	}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(llmClient.last().Prompt, "texto explícito del llamador") {
		t.Fatal("explicit textKey content not used")
	}
	if strings.Contains(llmClient.last().Prompt, "texto por defecto") {
		t.Fatal("default blob should not have been used")
	}
}

func TestAnalyzeErrorMarkerFallsBackToVision(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	ctx := context.Background()

	run := runs.New("user-1", "uploads/u1/doc.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedBlob(t, store, "uploads/u1/doc.pdf", "raw document bytes")
	errKey := "extracted/" + run.RunID + ".txt"
	seedBlob(t, store, errKey, "Error: no se pudo procesar el documento correctamente en extracción")
	if err := repo.MarkExtracted(ctx, run.RunID, errKey, "textract", "", time.Now().UTC()); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}

	out, err := svc.Analyze(ctx, Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias, TextKey: errKey})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Method != MethodBedrockVision {
		t.Fatalf("method = %q, want vision fallback", out.Method)
	}
	input := llmClient.last()
	if input.Document == nil || input.Document.MediaType != "application/pdf" {
		t.Fatalf("vision input = %+v", input)
	}
	if input.MaxTokens != visionMaxTokens {
		t.Fatalf("maxTokens = %d", input.MaxTokens)
	}
}

func TestAnalyzeNoSourceFails(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	ctx := context.Background()

	run := runs.New("user-1", "", "", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkExtracted(ctx, run.RunID, "", "textract", "", time.Now().UTC()); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}

	_, err := svc.Analyze(ctx, Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	got, _ := repo.GetByRunID(ctx, run.RunID)
	if got.Status != runs.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("run = %+v", got)
	}
}

func TestAnalyzeCachedResultSkipsModel(t *testing.T) {
	svc, repo, store, llmClient, disp := newTestService(t)
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto válido ", 10))
	seedBlob(t, store, AnalysisKey(run.RunID), "resultado completo previo")
	if err := repo.MarkCompleted(context.Background(), run.RunID, AnalysisKey(run.RunID), MethodTextAnalysis, "resultado", time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	out, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !out.Cached || out.Result != "resultado completo previo" {
		t.Fatalf("outcome = %+v", out)
	}
	if llmClient.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", llmClient.calls)
	}
	if disp.calls != 0 {
		t.Fatalf("dispatch calls = %d, want 0", disp.calls)
	}
}

func TestAnalyzeStillProcessingDoesNotRedispatch(t *testing.T) {
	svc, repo, store, llmClient, disp := newTestService(t)
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto válido ", 10))

	out, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias, Async: true})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Status != runs.StatusProcessingAsync {
		t.Fatalf("status = %q", out.Status)
	}
	if disp.calls != 1 {
		t.Fatalf("dispatch calls = %d", disp.calls)
	}

	// Client retry while the worker is still running.
	out, err = svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias, Async: true})
	if err != nil {
		t.Fatalf("Analyze retry: %v", err)
	}
	if out.Status != runs.StatusProcessingAsync {
		t.Fatalf("retry status = %q", out.Status)
	}
	if disp.calls != 1 {
		t.Fatalf("dispatch calls after retry = %d, want 1", disp.calls)
	}
	if llmClient.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", llmClient.calls)
	}
}

func TestAnalyzeWhileExtractingReportsExtraction(t *testing.T) {
	svc, repo, _, llmClient, disp := newTestService(t)
	run := runs.New("user-1", "uploads/u1/doc.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Status != runs.StatusExtracting {
		t.Fatalf("status = %q, want %q", out.Status, runs.StatusExtracting)
	}
	if !strings.Contains(out.Message, "extracción") {
		t.Fatalf("message = %q, want extraction notice", out.Message)
	}
	if llmClient.calls != 0 || disp.calls != 0 {
		t.Fatalf("llm calls = %d, dispatch calls = %d, want 0", llmClient.calls, disp.calls)
	}

	got, _ := repo.GetByRunID(context.Background(), run.RunID)
	if got.Status != runs.StatusExtracting {
		t.Fatalf("run status = %q, must stay untouched", got.Status)
	}
}

func TestAnalyzeInvalidModel(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	if _, err := svc.Analyze(context.Background(), Request{RunID: "r", UserID: "u", Model: "C"}); err == nil {
		t.Fatal("expected error for invalid model")
	}
}

func TestProcessAsyncUsesAsyncVisionTag(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	ctx := context.Background()

	run := runs.New("user-1", "uploads/u1/scan.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedBlob(t, store, "uploads/u1/scan.pdf", "raw document bytes")
	if err := repo.MarkProcessingAsync(ctx, run.RunID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessingAsync: %v", err)
	}

	if err := svc.ProcessAsync(ctx, dispatch.Message{RunID: run.RunID, UserID: "user-1", Model: ModelInformesSociales}); err != nil {
		t.Fatalf("ProcessAsync: %v", err)
	}
	got, _ := repo.GetByRunID(ctx, run.RunID)
	if got.Status != runs.StatusCompleted || got.AnalysisMethod != MethodAsyncBedrockVision {
		t.Fatalf("run = %+v", got)
	}
	if !strings.Contains(llmClient.last().Prompt, "informe social") {
		t.Fatalf("prompt = %q", llmClient.last().Prompt[:100])
	}
}

func TestPromptOverrideFromStore(t *testing.T) {
	svc, repo, store, llmClient, _ := newTestService(t)
	seedBlob(t, store, "prompts/CONTRAGARANTIAS.txt", "Prompt personalizado de contragarantías:")
	run := seedExtractedRun(t, repo, store, strings.Repeat("texto válido ", 10))

	if _, err := svc.Analyze(context.Background(), Request{RunID: run.RunID, UserID: "user-1", Model: ModelContragarantias}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.HasPrefix(llmClient.last().Prompt, "Prompt personalizado") {
		t.Fatalf("prompt = %q", llmClient.last().Prompt[:60])
	}
}
