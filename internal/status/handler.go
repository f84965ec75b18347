package status

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/server/respond"
)

// Handler exposes the status projection over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs the status handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts status routes on the API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status/:runId", h.get)
}

func (h *Handler) get(c *gin.Context) {
	runID := c.Param("runId")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "runId is required", nil)
		return
	}
	c.Set("runId", runID)

	p, err := h.svc.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "run_not_found", "No run found for the given runId", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "status_failed", "Could not load run status", nil)
		return
	}
	respond.OK(c, p)
}
