package ocr

import (
	"context"
	"errors"
)

// ErrUnsupportedDocument indicates the OCR backend rejected the document
// format. Callers treat it as a signal to try structural analysis or
// vision-based extraction instead.
var ErrUnsupportedDocument = errors.New("ocr: unsupported document format")

// Job statuses reported by GetTextDetection.
const (
	JobInProgress = "IN_PROGRESS"
	JobSucceeded  = "SUCCEEDED"
	JobFailed     = "FAILED"
)

// JobResult is the state of an asynchronous text-detection job.
type JobResult struct {
	Status        string
	Text          string
	StatusMessage string
}

// Client extracts text from documents stored in the object store. The sync
// call handles single-page documents; multi-page documents go through the
// start/poll pair. AnalyzeStructured runs layout analysis (tables and forms)
// as a fallback for documents the plain detector rejects.
type Client interface {
	DetectText(ctx context.Context, bucket, key string) (string, error)
	StartTextDetection(ctx context.Context, bucket, key string) (jobID string, err error)
	GetTextDetection(ctx context.Context, jobID string) (JobResult, error)
	AnalyzeStructured(ctx context.Context, bucket, key string) (string, error)
}
