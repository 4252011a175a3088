package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PlanStatusNotStarted = "not_started"
	PlanStatusGenerating = "generating"
	PlanStatusReady      = "ready"
	PlanStatusFailed     = "failed"
)

type Plan struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Topic            string         `gorm:"column:topic;not null" json:"topic"`
	GenerationStatus string         `gorm:"column:generation_status;not null;index;default:not_started" json:"generation_status"` // not_started|generating|ready|failed
	Eligible         bool           `gorm:"column:eligible;not null;default:false" json:"eligible"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Plan) TableName() string { return "plan" }
