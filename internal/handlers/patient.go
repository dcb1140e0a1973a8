package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/services"
)

type PatientHandler struct {
	log            *logger.Logger
	patientService services.PatientService
}

func NewPatientHandler(baseLog *logger.Logger, patientService services.PatientService) *PatientHandler {
	return &PatientHandler{
		log:            baseLog.With("handler", "PatientHandler"),
		patientService: patientService,
	}
}

// Create promotes a completed session into a patient record.
func (h *PatientHandler) Create(c *gin.Context) {
	var input services.PromoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	patient, err := h.patientService.Promote(c.Request.Context(), input)
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondCreated(c, patient)
}

func (h *PatientHandler) List(c *gin.Context) {
	views, err := h.patientService.List(c.Request.Context())
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondOK(c, views)
}

func (h *PatientHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", fmt.Errorf("invalid patient id"))
		return
	}
	view, err := h.patientService.Get(c.Request.Context(), id)
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondOK(c, view)
}

func (h *PatientHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", fmt.Errorf("invalid patient id"))
		return
	}
	var input services.PromoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	patient, err := h.patientService.Update(c.Request.Context(), id, input)
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondOK(c, patient)
}

// Delete removes a patient and cascades to its session, prediction and
// artifacts.
func (h *PatientHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", fmt.Errorf("invalid patient id"))
		return
	}
	if err := h.patientService.Delete(c.Request.Context(), id); err != nil {
		RespondClassified(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
