package history

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/server/respond"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Item is one run in a user's history listing.
type Item struct {
	RunID            string     `json:"runId"`
	Status           string     `json:"status"`
	FileKey          string     `json:"fileKey,omitempty"`
	FileType         string     `json:"fileType,omitempty"`
	Model            string     `json:"model,omitempty"`
	ExtractionMethod string     `json:"extractionMethod,omitempty"`
	AnalysisMethod   string     `json:"analysisMethod,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// Handler lists a user's runs, newest first.
type Handler struct {
	Runs runs.Repo
}

// NewHandler constructs the history handler.
func NewHandler(repo runs.Repo) *Handler {
	return &Handler{Runs: repo}
}

// RegisterRoutes mounts history routes on the API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/history/:userId", h.list)
}

func (h *Handler) list(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "userId is required", nil)
		return
	}
	c.Set("userId", userID)

	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respond.Error(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	list, err := h.Runs.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "history_failed", "Could not list runs", nil)
		return
	}

	items := make([]Item, 0, len(list))
	for _, run := range list {
		items = append(items, Item{
			RunID:            run.RunID,
			Status:           run.Status,
			FileKey:          run.FileKey,
			FileType:         run.FileType,
			Model:            run.Model,
			ExtractionMethod: run.ExtractionMethod,
			AnalysisMethod:   run.AnalysisMethod,
			ErrorMessage:     run.ErrorMessage,
			CreatedAt:        run.CreatedAt,
			CompletedAt:      run.CompletedAt,
		})
	}
	respond.OK(c, gin.H{"userId": userID, "runs": items})
}
