package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxTopicRunes         = 200
	MaxNotesRunes         = 2000
	MaxSourceContextRunes = 8000

	MinWeeklyHours = 1
	MaxWeeklyHours = 80
)

var ErrEmptyTopic = errors.New("topic is required")

// RawInput is what the caller collected from the user, before any bounds
// are applied.
type RawInput struct {
	Topic         string
	Notes         string
	SkillLevel    string
	WeeklyHours   int
	LearningStyle string
	StartDate     *time.Time
	Deadline      *time.Time
	SourceContext string
}

// Input is the sanitized, length-bounded form derived once per attempt.
// Truncation of oversized fields is recorded, never silent.
type Input struct {
	Topic         string
	Notes         string
	SkillLevel    string
	WeeklyHours   int
	LearningStyle string
	StartDate     *time.Time
	Deadline      *time.Time
	SourceContext string

	TopicTruncated         bool
	NotesTruncated         bool
	SourceContextTruncated bool
	WeeklyHoursClamped     bool
}

func (in Input) Truncated() bool {
	return in.TopicTruncated || in.NotesTruncated || in.SourceContextTruncated
}

func SanitizeInput(raw RawInput) (Input, error) {
	topic := strings.TrimSpace(raw.Topic)
	if topic == "" {
		return Input{}, ErrEmptyTopic
	}

	in := Input{
		StartDate: raw.StartDate,
		Deadline:  raw.Deadline,
	}
	in.Topic, in.TopicTruncated = truncateRunes(topic, MaxTopicRunes)
	in.Notes, in.NotesTruncated = truncateRunes(strings.TrimSpace(raw.Notes), MaxNotesRunes)
	in.SourceContext, in.SourceContextTruncated = truncateRunes(strings.TrimSpace(raw.SourceContext), MaxSourceContextRunes)

	in.SkillLevel = normalizeSkillLevel(raw.SkillLevel)
	in.LearningStyle = strings.ToLower(strings.TrimSpace(raw.LearningStyle))

	in.WeeklyHours = raw.WeeklyHours
	if in.WeeklyHours < MinWeeklyHours {
		in.WeeklyHours = MinWeeklyHours
		in.WeeklyHoursClamped = raw.WeeklyHours != 0
	}
	if in.WeeklyHours > MaxWeeklyHours {
		in.WeeklyHours = MaxWeeklyHours
		in.WeeklyHoursClamped = true
	}

	return in, nil
}

// PromptHash is a deterministic digest of the plan, user and every sanitized
// field; identical requests always hash identically, for idempotency checks
// and auditing.
func PromptHash(planID, userID uuid.UUID, in Input) string {
	parts := []string{
		planID.String(),
		userID.String(),
		in.Topic,
		in.Notes,
		in.SkillLevel,
		fmt.Sprintf("%d", in.WeeklyHours),
		in.LearningStyle,
		formatDate(in.StartDate),
		formatDate(in.Deadline),
		in.SourceContext,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func normalizeSkillLevel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intermediate":
		return "intermediate"
	case "advanced":
		return "advanced"
	default:
		return "beginner"
	}
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return strings.TrimSpace(string(runes[:limit])), true
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
