package uploads

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aspor-backend/internal/shared/server/respond"
	"aspor-backend/internal/shared/storage/object"
	"aspor-backend/internal/shared/util"
)

const maxUploadBytes = 25 << 20

// Handler accepts direct multipart document uploads and places them under the
// uploads/ prefix where the extraction pipeline expects them.
type Handler struct {
	Store object.ObjectStore
}

// NewHandler constructs the uploads handler.
func NewHandler(store object.ObjectStore) *Handler {
	return &Handler{Store: store}
}

// RegisterRoutes mounts upload routes on the API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "A multipart 'file' field is required", nil)
		return
	}

	name, err := util.SanitizeFileName(fileHeader.Filename)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_file_name", "Invalid file name", nil)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "Could not read uploaded file", nil)
		return
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fileKey := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), name)
	size, err := h.Store.Save(c.Request.Context(), fileKey, contentType, src)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "upload_failed", "Could not store the document", nil)
		return
	}

	respond.OK(c, gin.H{
		"fileKey":  fileKey,
		"fileName": name,
		"fileType": util.FileExtension(name),
		"size":     size,
	})
}
