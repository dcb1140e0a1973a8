package handlers

import (
	"github.com/gin-gonic/gin"

	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/services"
)

type AdminHandler struct {
	log          *logger.Logger
	auditService services.AuditService
}

func NewAdminHandler(baseLog *logger.Logger, auditService services.AuditService) *AdminHandler {
	return &AdminHandler{
		log:          baseLog.With("handler", "AdminHandler"),
		auditService: auditService,
	}
}

// Audit scans for drift between the session registry and the artifact trees.
// `?repair=true` also removes orphan artifact directories.
func (h *AdminHandler) Audit(c *gin.Context) {
	repair := c.Query("repair") == "true"
	report, err := h.auditService.Scan(c.Request.Context(), repair)
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondOK(c, report)
}
