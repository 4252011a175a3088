package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AttemptStatusInProgress = "in_progress"
	AttemptStatusSuccess    = "success"
	AttemptStatusFailure    = "failure"
)

// PlanAttempt is one reservation-to-finalization cycle for a plan. Rows are
// created by Reserve, mutated exactly once by FinalizeSuccess or
// FinalizeFailure, and never deleted.
type PlanAttempt struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Seq            int            `gorm:"column:seq;not null" json:"seq"`
	Status         string         `gorm:"column:status;not null;index" json:"status"` // in_progress|success|failure
	FailureClass   *string        `gorm:"column:failure_class" json:"failure_class,omitempty"`
	DurationMs     int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	ModulesCount   int            `gorm:"column:modules_count;not null;default:0" json:"modules_count"`
	TasksCount     int            `gorm:"column:tasks_count;not null;default:0" json:"tasks_count"`
	InputTruncated bool           `gorm:"column:input_truncated;not null;default:false" json:"input_truncated"`
	PromptHash     string         `gorm:"column:prompt_hash;not null;index" json:"prompt_hash"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (PlanAttempt) TableName() string { return "plan_attempt" }
