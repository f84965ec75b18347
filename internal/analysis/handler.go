package analysis

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/server/respond"
)

// Handler exposes analysis over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs the analysis handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts analysis routes on the API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.analyze)
}

type analyzeRequest struct {
	RunID   string `json:"runId"`
	UserID  string `json:"userId"`
	Model   string `json:"model"`
	TextKey string `json:"textKey"`
	Async   bool   `json:"async"`
}

func (h *Handler) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "Invalid JSON body", nil)
		return
	}
	if req.RunID == "" || req.UserID == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "runId and userId are required", nil)
		return
	}
	if !ValidModel(req.Model) {
		respond.Error(c, http.StatusBadRequest, "invalid_model", "model must be A or B", nil)
		return
	}
	c.Set("runId", req.RunID)
	c.Set("userId", req.UserID)

	out, err := h.svc.Analyze(c.Request.Context(), Request{
		RunID:   req.RunID,
		UserID:  req.UserID,
		Model:   req.Model,
		TextKey: req.TextKey,
		Async:   req.Async,
	})
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "run_not_found", "No run found for the given runId", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "analysis_failed", err.Error(), gin.H{"runId": req.RunID})
		return
	}
	if out.Status == runs.StatusExtracting {
		respond.JSON(c, http.StatusConflict, out)
		return
	}
	if out.Status == runs.StatusProcessingAsync || out.Status == runs.StatusAnalyzing {
		respond.Accepted(c, out)
		return
	}
	respond.OK(c, out)
}
