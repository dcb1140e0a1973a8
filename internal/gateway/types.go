package gateway

import "lcrd-backend/internal/types"

// PredictResponse is the validated shape of the inference service's answer.
// Predictions and OverlayImages are required; the rest is optional.
type PredictResponse struct {
	Predictions       [][]float64          `json:"predictions"`
	OverlayImages     []OverlayImage       `json:"overlayImages"`
	ResultArchiveLink string               `json:"resultArchiveLink,omitempty"`
	AttentionInfo     *types.AttentionInfo `json:"attentionInfo,omitempty"`
}

type OverlayImage struct {
	Filename     string `json:"filename"`
	DownloadLink string `json:"downloadLink"`
}
