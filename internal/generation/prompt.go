package generation

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge-backend/internal/provider"
)

// BuildMessages renders the sanitized input as the prompt sent to a
// backend. Every field that made it through sanitization is included, so
// the prompt hash covers exactly what the backend saw.
func BuildMessages(in Input) []provider.Message {
	system := strings.Join([]string{
		"You design structured, realistic learning plans.",
		"Return ONLY valid JSON matching the provided schema: an object with a \"modules\" array, each module with a title, description, estimated_minutes and a \"tasks\" array of {title, description, estimated_minutes}.",
		"Keep titles specific and order modules from fundamentals to advanced material.",
	}, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	fmt.Fprintf(&b, "Skill level: %s\n", in.SkillLevel)
	fmt.Fprintf(&b, "Available hours per week: %d\n", in.WeeklyHours)
	if in.LearningStyle != "" {
		fmt.Fprintf(&b, "Preferred learning style: %s\n", in.LearningStyle)
	}
	if in.StartDate != nil {
		fmt.Fprintf(&b, "Start date: %s\n", formatDate(in.StartDate))
	}
	if in.Deadline != nil {
		fmt.Fprintf(&b, "Deadline: %s\n", formatDate(in.Deadline))
	}
	if in.Notes != "" {
		fmt.Fprintf(&b, "\nLearner notes:\n%s\n", in.Notes)
	}
	if in.SourceContext != "" {
		fmt.Fprintf(&b, "\nSource material (truncated):\n%s\n", in.SourceContext)
	}
	b.WriteString("\nCreate a learning plan with 3-8 modules and 2-8 tasks per module.")

	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func PlanSchema() *provider.JSONSchema {
	taskSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":             map[string]any{"type": "string"},
			"description":       map[string]any{"type": "string"},
			"estimated_minutes": map[string]any{"type": "integer"},
		},
		"required":             []string{"title", "estimated_minutes"},
		"additionalProperties": false,
	}
	moduleSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":             map[string]any{"type": "string"},
			"description":       map[string]any{"type": "string"},
			"estimated_minutes": map[string]any{"type": "integer"},
			"tasks":             map[string]any{"type": "array", "items": taskSchema},
		},
		"required":             []string{"title", "estimated_minutes", "tasks"},
		"additionalProperties": false,
	}
	return &provider.JSONSchema{
		Name: "learning_plan",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"modules": map[string]any{"type": "array", "items": moduleSchema},
			},
			"required":             []string{"modules"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}
