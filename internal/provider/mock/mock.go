package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/planforge/planforge-backend/internal/provider"
)

// Engine is a deterministic in-process backend. With no fields set it
// streams a small valid plan derived from the last user message, which keeps
// local development and the orchestrator tests independent of any upstream.
type Engine struct {
	// EngineName defaults to "mock".
	EngineName string

	// Response, when non-empty, is streamed verbatim instead of the
	// derived default plan.
	Response string

	// CallErrs are returned by successive Generate calls, in order, before
	// calls start succeeding. Lets tests script fail-N-times-then-succeed.
	CallErrs []error

	// StreamErr, when set, is emitted as a mid-stream chunk error after
	// the first chunk of text.
	StreamErr error

	// ChunkSize controls how the response text is split; defaults to 16.
	ChunkSize int

	mu    sync.Mutex
	calls int
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string {
	if strings.TrimSpace(e.EngineName) != "" {
		return e.EngineName
	}
	return "mock"
}

// Calls reports how many times Generate has been invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) Generate(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.mu.Unlock()

	if call < len(e.CallErrs) && e.CallErrs[call] != nil {
		return nil, e.CallErrs[call]
	}

	full := e.Response
	if full == "" {
		full = defaultPlanJSON(req)
	}

	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 16
	}

	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		sentAny := false
		for i := 0; i < len(full); i += chunkSize {
			end := i + chunkSize
			if end > len(full) {
				end = len(full)
			}
			select {
			case ch <- provider.Chunk{Text: full[i:end]}:
				sentAny = true
			case <-ctx.Done():
				select {
				case ch <- provider.Chunk{Err: ctx.Err()}:
				default:
				}
				return
			}
			if e.StreamErr != nil && sentAny {
				select {
				case ch <- provider.Chunk{Err: e.StreamErr}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &provider.Stream{
		Metadata: provider.Metadata{Provider: e.Name(), Model: "mock"},
		Chunks:   ch,
	}, nil
}

func defaultPlanJSON(req provider.Request) string {
	topic := "your topic"
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(req.Messages[i].Role, "user") {
			continue
		}
		for _, line := range strings.Split(req.Messages[i].Content, "\n") {
			if rest, ok := strings.CutPrefix(line, "Topic: "); ok {
				if t := strings.TrimSpace(rest); t != "" {
					topic = t
				}
				break
			}
		}
		break
	}

	doc := map[string]any{
		"modules": []map[string]any{
			{
				"title":             "Foundations of " + topic,
				"description":       "Core concepts and vocabulary.",
				"estimated_minutes": 120,
				"tasks": []map[string]any{
					{"title": "Survey the landscape", "description": "Read an overview of " + topic + ".", "estimated_minutes": 45},
					{"title": "Set up your environment", "estimated_minutes": 75},
				},
			},
			{
				"title":             "Applying " + topic,
				"description":       "Hands-on practice.",
				"estimated_minutes": 180,
				"tasks": []map[string]any{
					{"title": "Build a small project", "estimated_minutes": 120},
					{"title": "Review and reflect", "estimated_minutes": 60},
				},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}
