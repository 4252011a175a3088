package types

import (
	"time"

	"github.com/google/uuid"
)

type PlanTask struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID         uuid.UUID `gorm:"type:uuid;not null;index" json:"module_id"`
	Index            int       `gorm:"column:index;not null" json:"index"`
	Title            string    `gorm:"column:title;not null" json:"title"`
	Description      string    `gorm:"column:description" json:"description"`
	EstimatedMinutes int       `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (PlanTask) TableName() string { return "plan_task" }
