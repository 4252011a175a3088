package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/planforge/planforge-backend/internal/provider"
)

type ParseErrorKind string

const (
	ParseErrorInvalidJSON ParseErrorKind = "invalid_json"
	ParseErrorValidation  ParseErrorKind = "validation"
)

type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

type Limits struct {
	MaxBufferBytes    int
	MaxModules        int
	MaxTasksPerModule int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBufferBytes:    256 << 10,
		MaxModules:        16,
		MaxTasksPerModule: 24,
	}
}

// Effort bounds. Values outside are clamped, and the clamp is recorded on
// the ParsedGeneration so finalize can persist the normalization flag.
const (
	minTaskMinutes   = 5
	maxTaskMinutes   = 480
	minModuleMinutes = 15
	maxModuleMinutes = 4800
)

type ParsedTask struct {
	Title            string
	Description      string
	EstimatedMinutes int
}

type ParsedModule struct {
	Title            string
	Description      string
	EstimatedMinutes int
	Tasks            []ParsedTask
}

// ParsedGeneration is transient: it is normalized in memory and written out
// as module/task rows by finalize, never persisted as-is.
type ParsedGeneration struct {
	Modules    []ParsedModule
	Normalized bool
	TaskCount  int
}

// moduleProbe cheaply detects the first appearance of the top-level
// "modules" array without parsing. Offsets only move forward, so the scan is
// linear over the whole stream.
type moduleProbe struct {
	stage int // 0: find "modules" key, 1: find '[', 2: find '{', 3: fired
	off   int
}

func (p *moduleProbe) scan(buf string) bool {
	for p.stage < 3 {
		switch p.stage {
		case 0:
			i := strings.Index(buf[p.off:], `"modules"`)
			if i < 0 {
				if len(buf) > len(`"modules"`) {
					p.off = len(buf) - len(`"modules"`)
				}
				return false
			}
			p.off += i + len(`"modules"`)
			p.stage = 1
		case 1:
			i := strings.IndexByte(buf[p.off:], '[')
			if i < 0 {
				p.off = len(buf)
				return false
			}
			p.off += i + 1
			p.stage = 2
		case 2:
			i := strings.IndexByte(buf[p.off:], '{')
			if i < 0 {
				p.off = len(buf)
				return false
			}
			p.off += i + 1
			p.stage = 3
		}
	}
	return true
}

// Parse accumulates streamed chunks into a bounded buffer, then validates
// the complete document. onFirstModule, when non-nil, is invoked exactly
// once as soon as the first module object is spotted mid-stream. A chunk
// carrying Err aborts accumulation and the error is returned untouched;
// likewise ctx cancellation is surfaced as ctx.Err(), never reclassified.
func Parse(ctx context.Context, chunks <-chan provider.Chunk, limits Limits, onFirstModule func()) (*ParsedGeneration, error) {
	if limits.MaxBufferBytes <= 0 || limits.MaxModules <= 0 || limits.MaxTasksPerModule <= 0 {
		limits = DefaultLimits()
	}

	var buf strings.Builder
	probe := &moduleProbe{}
	fired := false

accumulate:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				break accumulate
			}
			if c.Err != nil {
				return nil, c.Err
			}
			if c.Text == "" {
				continue
			}
			if buf.Len()+len(c.Text) > limits.MaxBufferBytes {
				return nil, &ParseError{
					Kind: ParseErrorValidation,
					Msg:  fmt.Sprintf("response exceeded the maximum size of %d bytes", limits.MaxBufferBytes),
				}
			}
			buf.WriteString(c.Text)
			if !fired && probe.scan(buf.String()) {
				fired = true
				if onFirstModule != nil {
					onFirstModule()
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parseDocument(buf.String(), limits)
}

func parseDocument(raw string, limits Limits) (*ParsedGeneration, error) {
	text := sanitizeJSONText(raw)
	if text == "" {
		return nil, &ParseError{Kind: ParseErrorInvalidJSON, Msg: "empty response"}
	}

	var doc struct {
		Modules []struct {
			Title            string          `json:"title"`
			Description      string          `json:"description"`
			EstimatedMinutes json.RawMessage `json:"estimated_minutes"`
			Tasks            []struct {
				Title            string          `json:"title"`
				Description      string          `json:"description"`
				EstimatedMinutes json.RawMessage `json:"estimated_minutes"`
			} `json:"tasks"`
		} `json:"modules"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ParseError{Kind: ParseErrorInvalidJSON, Msg: fmt.Sprintf("response is not valid JSON: %v", err)}
	}

	if len(doc.Modules) == 0 {
		return nil, &ParseError{Kind: ParseErrorValidation, Msg: "plan must include at least one module"}
	}
	if len(doc.Modules) > limits.MaxModules {
		return nil, &ParseError{
			Kind: ParseErrorValidation,
			Msg:  fmt.Sprintf("plan exceeds the maximum of %d modules", limits.MaxModules),
		}
	}

	out := &ParsedGeneration{Modules: make([]ParsedModule, 0, len(doc.Modules))}

	for mi, m := range doc.Modules {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			return nil, &ParseError{Kind: ParseErrorValidation, Msg: fmt.Sprintf("module %d must include a title", mi+1)}
		}

		minutes, err := coerceMinutes(m.EstimatedMinutes)
		if err != nil {
			return nil, &ParseError{Kind: ParseErrorValidation, Msg: fmt.Sprintf("module %d (%q) has an invalid estimated duration", mi+1, title)}
		}

		if len(m.Tasks) == 0 {
			return nil, &ParseError{Kind: ParseErrorValidation, Msg: fmt.Sprintf("module %d must include at least one task", mi+1)}
		}
		if len(m.Tasks) > limits.MaxTasksPerModule {
			return nil, &ParseError{
				Kind: ParseErrorValidation,
				Msg:  fmt.Sprintf("module %d exceeds the maximum of %d tasks", mi+1, limits.MaxTasksPerModule),
			}
		}

		pm := ParsedModule{
			Title:       title,
			Description: strings.TrimSpace(m.Description),
			Tasks:       make([]ParsedTask, 0, len(m.Tasks)),
		}
		pm.EstimatedMinutes = clampMinutes(minutes, minModuleMinutes, maxModuleMinutes, &out.Normalized)

		for ti, t := range m.Tasks {
			taskTitle := strings.TrimSpace(t.Title)
			if taskTitle == "" {
				return nil, &ParseError{Kind: ParseErrorValidation, Msg: fmt.Sprintf("module %d task %d must include a title", mi+1, ti+1)}
			}
			taskMinutes, err := coerceMinutes(t.EstimatedMinutes)
			if err != nil {
				return nil, &ParseError{Kind: ParseErrorValidation, Msg: fmt.Sprintf("module %d task %d has an invalid estimated duration", mi+1, ti+1)}
			}
			pm.Tasks = append(pm.Tasks, ParsedTask{
				Title:            taskTitle,
				Description:      strings.TrimSpace(t.Description),
				EstimatedMinutes: clampMinutes(taskMinutes, minTaskMinutes, maxTaskMinutes, &out.Normalized),
			})
			out.TaskCount++
		}

		out.Modules = append(out.Modules, pm)
	}

	return out, nil
}

// coerceMinutes accepts a JSON number or a numeric string; anything else, or
// a non-finite value, is rejected.
func coerceMinutes(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing estimated duration")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("estimated duration must be numeric")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("estimated duration must be finite")
	}
	return f, nil
}

func clampMinutes(f float64, lo, hi int, normalized *bool) int {
	v := int(math.Round(f))
	if v < lo {
		*normalized = true
		return lo
	}
	if v > hi {
		*normalized = true
		return hi
	}
	return v
}

// sanitizeJSONText strips a markdown code fence some backends wrap around
// their JSON output.
func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
