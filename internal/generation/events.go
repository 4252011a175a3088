package generation

import "github.com/google/uuid"

type EventType string

const (
	EventPlanStart     EventType = "plan_start"
	EventModuleSummary EventType = "module_summary"
	EventProgress      EventType = "progress"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
	EventCancelled     EventType = "cancelled"
)

// Event is one entry in the ordered stream the orchestrator emits to the
// caller. complete, error and cancelled are mutually exclusive terminal
// events; nothing follows them.
type Event struct {
	Type       EventType `json:"type"`
	PlanID     uuid.UUID `json:"plan_id"`
	AttemptSeq int       `json:"attempt_seq,omitempty"`

	Module        *ModuleSummary `json:"module,omitempty"`
	ModulesParsed int            `json:"modules_parsed,omitempty"`
	ModulesTotal  int            `json:"modules_total,omitempty"`

	ModulesCount int `json:"modules_count,omitempty"`
	TasksCount   int `json:"tasks_count,omitempty"`

	Message        string `json:"message,omitempty"`
	Classification string `json:"classification,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
}

type ModuleSummary struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	TaskCount        int    `json:"task_count"`
}
