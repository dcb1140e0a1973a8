package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PredictionRecord holds the model output for one session: the per-year risk
// score matrix plus the overlay filenames discovered at materialization.
// At most one record exists per session.
type PredictionRecord struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	Session       *Session       `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	Predictions   datatypes.JSON `gorm:"not null" json:"predictions"`
	AttentionInfo datatypes.JSON `json:"attention_info,omitempty"`
	Images        datatypes.JSON `json:"images,omitempty"`
	GifFile       string         `gorm:"column:gif_file" json:"gif_file,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (PredictionRecord) TableName() string { return "prediction_record" }

// AttentionInfo ranks input files by how much the model attended to them.
type AttentionInfo struct {
	Ranked        []AttentionEntry `json:"ranked"`
	TotalFiles    int              `json:"total_files"`
	ReturnedFiles int              `json:"returned_files"`
}

type AttentionEntry struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}
