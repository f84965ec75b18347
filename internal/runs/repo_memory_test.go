package runs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepoCreateAndGet(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	run := New("user-1", "uploads/abc/doc.pdf", "pdf", time.Now().UTC())
	if run.Status != StatusExtracting {
		t.Fatalf("new run status = %q, want %q", run.Status, StatusExtracting)
	}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByRunID(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	if got.UserID != "user-1" || got.FileKey != "uploads/abc/doc.pdf" {
		t.Fatalf("unexpected run: %+v", got)
	}

	if _, err := repo.GetByRunID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepoListByUserNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		run := New("user-1", "uploads/x/doc.pdf", "pdf", base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := New("user-2", "uploads/y/doc.pdf", "pdf", base)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := repo.ListByUser(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("list not newest-first at index %d", i)
		}
	}
	for _, run := range list {
		if run.UserID != "user-1" {
			t.Fatalf("run for wrong user: %+v", run)
		}
	}
}

func TestMemoryRepoLifecycleMarks(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	run := New("user-1", "uploads/abc/doc.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Now().UTC()
	if err := repo.MarkExtracted(ctx, run.RunID, "extracted/"+run.RunID+".txt", "textract", "1200 caracteres", at); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}
	got, _ := repo.GetByRunID(ctx, run.RunID)
	if got.Status != StatusExtracted || got.ExtractionMethod != "textract" || got.ExtractedAt == nil {
		t.Fatalf("after extract: %+v", got)
	}

	if err := repo.MarkAnalyzing(ctx, run.RunID, "A", at); err != nil {
		t.Fatalf("MarkAnalyzing: %v", err)
	}
	if err := repo.MarkCompleted(ctx, run.RunID, "analysis/"+run.RunID+".txt", "bedrock", "resultado", at); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = repo.GetByRunID(ctx, run.RunID)
	if got.Status != StatusCompleted || got.ResultPreview != "resultado" || got.CompletedAt == nil {
		t.Fatalf("after complete: %+v", got)
	}
	if !got.Terminal() {
		t.Fatal("completed run should be terminal")
	}

	if err := repo.MarkFailed(ctx, run.RunID, "boom", at); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = repo.GetByRunID(ctx, run.RunID)
	if got.Status != StatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("after fail: %+v", got)
	}
}

func TestMemoryRepoClaim(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	at := time.Now().UTC()

	run := New("user-1", "uploads/abc/doc.pdf", "pdf", at)
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// EXTRACTING is not claimable.
	won, err := repo.Claim(ctx, run.RunID, StatusAnalyzing, at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if won {
		t.Fatal("claim from EXTRACTING should lose")
	}

	if err := repo.MarkExtracted(ctx, run.RunID, "extracted/"+run.RunID+".txt", "textract", "", at); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}

	won, err = repo.Claim(ctx, run.RunID, StatusProcessingAsync, at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !won {
		t.Fatal("claim from EXTRACTED should win")
	}
	got, _ := repo.GetByRunID(ctx, run.RunID)
	if got.Status != StatusProcessingAsync || got.AsyncInitiatedAt == nil {
		t.Fatalf("after claim: %+v", got)
	}

	// A second claim on the in-flight run loses.
	won, err = repo.Claim(ctx, run.RunID, StatusAnalyzing, at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if won {
		t.Fatal("claim from PROCESSING_ASYNC should lose")
	}

	// Failed runs may be retried.
	if err := repo.MarkFailed(ctx, run.RunID, "boom", at); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	won, err = repo.Claim(ctx, run.RunID, StatusAnalyzing, at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !won {
		t.Fatal("claim from FAILED should win")
	}

	if _, err := repo.Claim(ctx, "missing", StatusAnalyzing, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim on missing run err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepoMarkStep(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	run := New("user-1", "uploads/abc/doc.pdf", "pdf", time.Now().UTC())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.MarkStep(ctx, run.RunID, "extraction", true, "textract sync"); err != nil {
		t.Fatalf("MarkStep: %v", err)
	}
	if err := repo.MarkStep(ctx, run.RunID, "analysis", false, "timeout"); err != nil {
		t.Fatalf("MarkStep: %v", err)
	}

	got, _ := repo.GetByRunID(ctx, run.RunID)
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %v", got.Steps)
	}
	if !got.Steps["extraction"].OK || got.Steps["analysis"].OK {
		t.Fatalf("step flags wrong: %v", got.Steps)
	}
}

func TestRunKeys(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	run := New("user-9", "uploads/k/f.pdf", "pdf", at)
	if run.PK != "USER#user-9" {
		t.Fatalf("pk = %q", run.PK)
	}
	want := "RUN#2025-03-01T10:30:00Z#" + run.RunID
	if run.SK != want {
		t.Fatalf("sk = %q, want %q", run.SK, want)
	}
}
