package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/services"
	"lcrd-backend/internal/types"
)

// 512 MiB: a full thin-slice chest CT series zips to well under this.
const maxUploadBytes = 512 << 20

type PredictHandler struct {
	log            *logger.Logger
	predictService services.PredictService
}

func NewPredictHandler(baseLog *logger.Logger, predictService services.PredictService) *PredictHandler {
	return &PredictHandler{
		log:            baseLog.With("handler", "PredictHandler"),
		predictService: predictService,
	}
}

type overlayLinks struct {
	DownloadLinks []string `json:"downloadLinks"`
	GifDownload   string   `json:"gifDownload,omitempty"`
}

type predictResponse struct {
	SessionID     string               `json:"sessionId"`
	Predictions   [][]float64          `json:"predictions"`
	AttentionInfo *types.AttentionInfo `json:"attentionInfo,omitempty"`
	OverlayImages overlayLinks         `json:"overlayImages"`
}

// Predict accepts a zip of DICOM files, runs the session pipeline and
// returns download links for the materialized overlays.
func (h *PredictHandler) Predict(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field 'file' required"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		RespondError(c, http.StatusRequestEntityTooLarge, "upload_too_large",
			fmt.Errorf("upload exceeds %d bytes", maxUploadBytes))
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".zip") {
		RespondError(c, http.StatusBadRequest, "unsupported_media", fmt.Errorf("expected a .zip archive"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_upload", err)
		return
	}
	defer file.Close()
	archive, err := io.ReadAll(file)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_upload", err)
		return
	}

	sessionID := uuid.New()
	result, err := h.predictService.Run(c.Request.Context(), sessionID, archive)
	if err != nil {
		RespondClassified(c, err)
		return
	}

	links := overlayLinks{DownloadLinks: make([]string, 0, len(result.Images))}
	for _, img := range result.Images {
		links.DownloadLinks = append(links.DownloadLinks, downloadLink(result.SessionID, img))
	}
	if result.Gif != "" {
		links.GifDownload = downloadLink(result.SessionID, result.Gif)
	}

	RespondCreated(c, predictResponse{
		SessionID:     result.SessionID.String(),
		Predictions:   result.Predictions,
		AttentionInfo: result.AttentionInfo,
		OverlayImages: links,
	})
}

func downloadLink(sessionID uuid.UUID, relative string) string {
	return fmt.Sprintf("/api/download/results/%s/%s", sessionID, relative)
}

// GetSession returns one session's listings plus its prediction, with the
// read-path diagnostics attached.
func (h *PredictHandler) GetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", fmt.Errorf("invalid session id"))
		return
	}

	detail, err := h.predictService.SessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		RespondClassified(c, err)
		return
	}
	RespondOK(c, detail)
}
