package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/platform/logger"
)

type DownloadHandler struct {
	log   *logger.Logger
	store artifacts.Store
}

func NewDownloadHandler(baseLog *logger.Logger, store artifacts.Store) *DownloadHandler {
	return &DownloadHandler{
		log:   baseLog.With("handler", "DownloadHandler"),
		store: store,
	}
}

// Download streams an artifact as an attachment.
func (h *DownloadHandler) Download(c *gin.Context) {
	h.serve(c, true)
}

// Preview streams an artifact inline, for the viewer.
func (h *DownloadHandler) Preview(c *gin.Context) {
	h.serve(c, false)
}

func (h *DownloadHandler) serve(c *gin.Context, attachment bool) {
	kind, err := artifacts.ParseKind(c.Param("which"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_artifact_kind", fmt.Errorf("unknown artifact kind"))
		return
	}
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", fmt.Errorf("invalid session id"))
		return
	}
	relative := strings.TrimPrefix(c.Param("filepath"), "/")

	path, err := h.store.ResolveDownloadPath(sessionID, kind, relative)
	if err != nil {
		RespondClassified(c, err)
		return
	}

	if attachment {
		c.FileAttachment(path, filepath.Base(path))
		return
	}
	c.File(path)
}
