package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/planforge/planforge-backend/internal/provider"
)

func chunkStream(texts ...string) <-chan provider.Chunk {
	ch := make(chan provider.Chunk, len(texts))
	for _, t := range texts {
		ch <- provider.Chunk{Text: t}
	}
	close(ch)
	return ch
}

const validPlanJSON = `{
	"modules": [
		{
			"title": "Basics",
			"description": "Start here",
			"estimated_minutes": 120,
			"tasks": [
				{"title": "Read the intro", "estimated_minutes": 30},
				{"title": "Try an example", "description": "Hands on", "estimated_minutes": 90}
			]
		},
		{
			"title": "Deep dive",
			"estimated_minutes": 240,
			"tasks": [
				{"title": "Build something", "estimated_minutes": 240}
			]
		}
	]
}`

func TestParseValidDocument(t *testing.T) {
	parsed, err := Parse(context.Background(), chunkStream(validPlanJSON), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Modules) != 2 {
		t.Fatalf("module count: want=2 got=%d", len(parsed.Modules))
	}
	if parsed.TaskCount != 3 {
		t.Fatalf("task count: want=3 got=%d", parsed.TaskCount)
	}
	if parsed.Modules[0].Title != "Basics" {
		t.Fatalf("module title: want=%q got=%q", "Basics", parsed.Modules[0].Title)
	}
	if parsed.Modules[0].Tasks[0].EstimatedMinutes != 30 {
		t.Fatalf("task minutes: want=30 got=%d", parsed.Modules[0].Tasks[0].EstimatedMinutes)
	}
	if parsed.Normalized {
		t.Fatalf("normalized: want=false got=true")
	}
}

func TestParseAcrossChunkBoundaries(t *testing.T) {
	var pieces []string
	for i := 0; i < len(validPlanJSON); i += 7 {
		end := i + 7
		if end > len(validPlanJSON) {
			end = len(validPlanJSON)
		}
		pieces = append(pieces, validPlanJSON[i:end])
	}
	parsed, err := Parse(context.Background(), chunkStream(pieces...), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Modules) != 2 {
		t.Fatalf("module count: want=2 got=%d", len(parsed.Modules))
	}
}

func TestParseStripsMarkdownFence(t *testing.T) {
	fenced := "```json\n" + validPlanJSON + "\n```"
	parsed, err := Parse(context.Background(), chunkStream(fenced), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Modules) != 2 {
		t.Fatalf("module count: want=2 got=%d", len(parsed.Modules))
	}
}

func TestParseFirstModuleCallbackFiresOnce(t *testing.T) {
	fired := 0
	_, err := Parse(context.Background(), chunkStream(
		`{"modules": [`,
		`{"title": "A", "estimated_minutes": 60, "tasks": [{"title": "t", "estimated_minutes": 30}]},`,
		`{"title": "B", "estimated_minutes": 60, "tasks": [{"title": "u", "estimated_minutes": 30}]}`,
		`]}`,
	), DefaultLimits(), func() { fired++ })
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if fired != 1 {
		t.Fatalf("callback count: want=1 got=%d", fired)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse(context.Background(), chunkStream(`{"modules": [`), DefaultLimits(), nil)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Kind != ParseErrorInvalidJSON {
		t.Fatalf("kind: want=%q got=%q", ParseErrorInvalidJSON, perr.Kind)
	}
}

func TestParseEmptyResponse(t *testing.T) {
	_, err := Parse(context.Background(), chunkStream(), DefaultLimits(), nil)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Kind != ParseErrorInvalidJSON {
		t.Fatalf("kind: want=%q got=%q", ParseErrorInvalidJSON, perr.Kind)
	}
}

func TestParseValidationPaths(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "no modules",
			doc:     `{"modules": []}`,
			wantMsg: "plan must include at least one module",
		},
		{
			name:    "missing module title",
			doc:     `{"modules": [{"title": " ", "estimated_minutes": 60, "tasks": [{"title": "t", "estimated_minutes": 30}]}]}`,
			wantMsg: "module 1 must include a title",
		},
		{
			name:    "module without tasks",
			doc:     `{"modules": [{"title": "A", "estimated_minutes": 60, "tasks": []}]}`,
			wantMsg: "module 1 must include at least one task",
		},
		{
			name:    "missing task title",
			doc:     `{"modules": [{"title": "A", "estimated_minutes": 60, "tasks": [{"title": "", "estimated_minutes": 30}]}]}`,
			wantMsg: "module 1 task 1 must include a title",
		},
		{
			name:    "non-numeric minutes",
			doc:     `{"modules": [{"title": "A", "estimated_minutes": "soon", "tasks": [{"title": "t", "estimated_minutes": 30}]}]}`,
			wantMsg: `module 1 ("A") has an invalid estimated duration`,
		},
		{
			name:    "non-numeric task minutes",
			doc:     `{"modules": [{"title": "A", "estimated_minutes": 60, "tasks": [{"title": "t", "estimated_minutes": true}]}]}`,
			wantMsg: "module 1 task 1 has an invalid estimated duration",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(context.Background(), chunkStream(tc.doc), DefaultLimits(), nil)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Kind != ParseErrorValidation {
				t.Fatalf("kind: want=%q got=%q", ParseErrorValidation, perr.Kind)
			}
			if perr.Msg != tc.wantMsg {
				t.Fatalf("message: want=%q got=%q", tc.wantMsg, perr.Msg)
			}
		})
	}
}

func TestParseNumericStringMinutes(t *testing.T) {
	doc := `{"modules": [{"title": "A", "estimated_minutes": "60", "tasks": [{"title": "t", "estimated_minutes": "30"}]}]}`
	parsed, err := Parse(context.Background(), chunkStream(doc), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Modules[0].EstimatedMinutes != 60 {
		t.Fatalf("module minutes: want=60 got=%d", parsed.Modules[0].EstimatedMinutes)
	}
	if parsed.Modules[0].Tasks[0].EstimatedMinutes != 30 {
		t.Fatalf("task minutes: want=30 got=%d", parsed.Modules[0].Tasks[0].EstimatedMinutes)
	}
}

func TestParseClampsOutOfRangeMinutes(t *testing.T) {
	doc := `{"modules": [{"title": "A", "estimated_minutes": 999999, "tasks": [{"title": "t", "estimated_minutes": 1}]}]}`
	parsed, err := Parse(context.Background(), chunkStream(doc), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Normalized {
		t.Fatalf("normalized: want=true got=false")
	}
	if parsed.Modules[0].EstimatedMinutes != maxModuleMinutes {
		t.Fatalf("module minutes: want=%d got=%d", maxModuleMinutes, parsed.Modules[0].EstimatedMinutes)
	}
	if parsed.Modules[0].Tasks[0].EstimatedMinutes != minTaskMinutes {
		t.Fatalf("task minutes: want=%d got=%d", minTaskMinutes, parsed.Modules[0].Tasks[0].EstimatedMinutes)
	}
}

func TestParseModuleCapExceeded(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"modules": [`)
	for i := 0; i < 3; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"title": "M", "estimated_minutes": 60, "tasks": [{"title": "t", "estimated_minutes": 30}]}`)
	}
	b.WriteString(`]}`)

	limits := Limits{MaxBufferBytes: 1 << 20, MaxModules: 2, MaxTasksPerModule: 8}
	_, err := Parse(context.Background(), chunkStream(b.String()), limits, nil)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Kind != ParseErrorValidation {
		t.Fatalf("kind: want=%q got=%q", ParseErrorValidation, perr.Kind)
	}
}

func TestParseBufferOverflow(t *testing.T) {
	limits := Limits{MaxBufferBytes: 64, MaxModules: 4, MaxTasksPerModule: 4}
	big := strings.Repeat("x", 128)
	_, err := Parse(context.Background(), chunkStream(big), limits, nil)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Kind != ParseErrorValidation {
		t.Fatalf("kind: want=%q got=%q", ParseErrorValidation, perr.Kind)
	}
}

func TestParseStreamErrorPassthrough(t *testing.T) {
	streamErr := errors.New("upstream blew up")
	ch := make(chan provider.Chunk, 2)
	ch <- provider.Chunk{Text: `{"modules": [`}
	ch <- provider.Chunk{Err: streamErr}
	close(ch)

	_, err := Parse(context.Background(), ch, DefaultLimits(), nil)
	if !errors.Is(err, streamErr) {
		t.Fatalf("expected stream error passthrough, got %v", err)
	}
}

func TestParseContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan provider.Chunk)

	_, err := Parse(ctx, ch, DefaultLimits(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
