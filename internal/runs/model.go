package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status vocabulary for a processing run. A run is created EXTRACTING and always
// ends in COMPLETED or FAILED; COMPLETED_NO_RESULT is a projection-only variant
// reported by the status query when a completed run has no readable result.
const (
	StatusExtracting        = "EXTRACTING"
	StatusExtracted         = "EXTRACTED"
	StatusAnalyzing         = "ANALYZING"
	StatusProcessingAsync   = "PROCESSING_ASYNC"
	StatusCompleted         = "COMPLETED"
	StatusFailed            = "FAILED"
	StatusCompletedNoResult = "COMPLETED_NO_RESULT"
)

// Step is a best-effort tracking breadcrumb written by the orchestrators.
type Step struct {
	OK      bool      `dynamodbav:"ok" json:"ok"`
	Details string    `dynamodbav:"details,omitempty" json:"details,omitempty"`
	At      time.Time `dynamodbav:"at" json:"at"`
}

// Run is one document-processing attempt. Records are addressed by the composite
// (PK, SK) key and by the globally unique RunID via a secondary index; they are
// mutated in place and never deleted by this subsystem.
type Run struct {
	PK               string          `dynamodbav:"pk" json:"-"`
	SK               string          `dynamodbav:"sk" json:"-"`
	RunID            string          `dynamodbav:"runId" json:"runId"`
	UserID           string          `dynamodbav:"userId" json:"userId"`
	Status           string          `dynamodbav:"status" json:"status"`
	FileKey          string          `dynamodbav:"fileKey" json:"fileKey"`
	FileType         string          `dynamodbav:"fileType" json:"fileType"`
	TextKey          string          `dynamodbav:"textKey,omitempty" json:"textKey,omitempty"`
	AnalysisKey      string          `dynamodbav:"analysisKey,omitempty" json:"analysisKey,omitempty"`
	Model            string          `dynamodbav:"model,omitempty" json:"model,omitempty"`
	ExtractionMethod string          `dynamodbav:"extractionMethod,omitempty" json:"extractionMethod,omitempty"`
	AnalysisMethod   string          `dynamodbav:"analysisMethod,omitempty" json:"analysisMethod,omitempty"`
	TextSummary      string          `dynamodbav:"textExtracted,omitempty" json:"textExtracted,omitempty"`
	ResultPreview    string          `dynamodbav:"analysisResult,omitempty" json:"analysisResult,omitempty"`
	ErrorMessage     string          `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	Steps            map[string]Step `dynamodbav:"steps,omitempty" json:"steps,omitempty"`
	CreatedAt        time.Time       `dynamodbav:"createdAt" json:"createdAt"`
	ExtractedAt      *time.Time      `dynamodbav:"extractedAt,omitempty" json:"extractedAt,omitempty"`
	AnalyzingAt      *time.Time      `dynamodbav:"analyzingAt,omitempty" json:"analyzingAt,omitempty"`
	AsyncInitiatedAt *time.Time      `dynamodbav:"asyncInitiated,omitempty" json:"asyncInitiated,omitempty"`
	CompletedAt      *time.Time      `dynamodbav:"completedAt,omitempty" json:"completedAt,omitempty"`
	FailedAt         *time.Time      `dynamodbav:"failedAt,omitempty" json:"failedAt,omitempty"`
}

// New builds a fresh run record in EXTRACTING state.
func New(userID, fileKey, fileType string, now time.Time) Run {
	runID := uuid.NewString()
	return Run{
		PK:        UserPK(userID),
		SK:        RunSK(now, runID),
		RunID:     runID,
		UserID:    userID,
		Status:    StatusExtracting,
		FileKey:   fileKey,
		FileType:  fileType,
		CreatedAt: now,
	}
}

// UserPK returns the partition key for a user's runs.
func UserPK(userID string) string {
	return "USER#" + userID
}

// RunSK returns the time-ordered sort key for a run.
func RunSK(createdAt time.Time, runID string) string {
	return fmt.Sprintf("RUN#%s#%s", createdAt.UTC().Format(time.RFC3339), runID)
}

// Terminal reports whether no further automatic transitions occur.
func (r Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// InFlight reports whether the run is still being processed.
func (r Run) InFlight() bool {
	switch r.Status {
	case StatusExtracting, StatusExtracted, StatusAnalyzing, StatusProcessingAsync:
		return true
	default:
		return false
	}
}
