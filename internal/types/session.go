package types

import (
	"time"

	"github.com/google/uuid"
)

// Session is the registry row for one upload-through-prediction cycle.
// Rows are hard-deleted by the reaper or by patient cascade delete, so no
// soft-delete column is carried.
type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	Saved     bool      `gorm:"not null;default:false;index" json:"saved"`
}

func (Session) TableName() string { return "session" }
