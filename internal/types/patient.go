package types

import (
	"time"

	"github.com/google/uuid"
)

// PatientRecord attaches a completed session to a clinical identity.
// Creating one is the promotion event: the referenced session is marked
// saved in the same transaction and becomes exempt from expiry.
type PatientRecord struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID   string            `gorm:"column:external_id;index" json:"external_id"`
	FullName     string            `gorm:"column:full_name;not null" json:"full_name"`
	Age          int               `gorm:"column:age" json:"age"`
	Sex          string            `gorm:"column:sex" json:"sex"`
	Address      string            `gorm:"column:address" json:"address"`
	Diagnosis    string            `gorm:"column:diagnosis" json:"diagnosis"`
	Conclusion   string            `gorm:"column:conclusion" json:"conclusion"`
	SessionID    uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	Session      *Session          `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	PredictionID uuid.UUID         `gorm:"type:uuid;not null" json:"prediction_id"`
	Prediction   *PredictionRecord `gorm:"constraint:OnDelete:CASCADE;foreignKey:PredictionID;references:ID" json:"prediction,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null" json:"updated_at"`
}

func (PatientRecord) TableName() string { return "patient_record" }
