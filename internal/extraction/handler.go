package extraction

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/server/respond"
)

// Handler exposes extraction over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs the extraction handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts extraction routes on the API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/extract", h.extract)
}

type extractRequest struct {
	FileKey string `json:"fileKey"`
	UserID  string `json:"userId"`
}

func (h *Handler) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "Invalid JSON body", nil)
		return
	}
	if req.FileKey == "" || req.UserID == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "fileKey and userId are required", nil)
		return
	}
	c.Set("userId", req.UserID)

	result, err := h.svc.Start(c.Request.Context(), req.UserID, req.FileKey)
	if result.RunID != "" {
		c.Set("runId", result.RunID)
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "extraction_failed", err.Error(), gin.H{"runId": result.RunID})
		return
	}
	if result.Status == runs.StatusProcessingAsync {
		respond.Accepted(c, result)
		return
	}
	respond.OK(c, result)
}
