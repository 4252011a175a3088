package mock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/planforge/planforge-backend/internal/provider"
)

func drain(t *testing.T, ch <-chan provider.Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestEngineDerivesPlanFromTopic(t *testing.T) {
	e := New()
	stream, err := e.Generate(context.Background(), provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "You build learning plans."},
			{Role: "user", Content: "Topic: Distributed systems\nSkill level: beginner"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	text, err := drain(t, stream.Chunks)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var doc struct {
		Modules []struct {
			Title string `json:"title"`
		} `json:"modules"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("default plan is not valid JSON: %v", err)
	}
	if len(doc.Modules) == 0 || !strings.Contains(doc.Modules[0].Title, "Distributed systems") {
		t.Fatalf("topic not woven into plan: %+v", doc.Modules)
	}
	if e.Calls() != 1 {
		t.Fatalf("calls: want=1 got=%d", e.Calls())
	}
}

func TestEngineScriptedErrorsThenSuccess(t *testing.T) {
	e := &Engine{CallErrs: []error{errors.New("cold start")}}

	if _, err := e.Generate(context.Background(), provider.Request{}); err == nil {
		t.Fatalf("first call: expected scripted error")
	}
	stream, err := e.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if _, err := drain(t, stream.Chunks); err != nil {
		t.Fatalf("stream: %v", err)
	}
}

func TestEngineVerbatimResponseAndChunking(t *testing.T) {
	e := &Engine{Response: `{"modules": []}`, ChunkSize: 4}
	stream, err := e.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text, err := drain(t, stream.Chunks)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != `{"modules": []}` {
		t.Fatalf("reassembled text: got=%q", text)
	}
}

func TestEngineMidStreamError(t *testing.T) {
	streamErr := errors.New("upstream hiccup")
	e := &Engine{Response: strings.Repeat("x", 64), ChunkSize: 8, StreamErr: streamErr}

	stream, err := e.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = drain(t, stream.Chunks)
	if !errors.Is(err, streamErr) {
		t.Fatalf("expected mid-stream error, got %v", err)
	}
}

func TestEngineStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Engine{Response: strings.Repeat("x", 1024), ChunkSize: 1}
	stream, err := e.Generate(ctx, provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text, _ := drain(t, stream.Chunks)
	if len(text) == len(e.Response) {
		t.Fatalf("stream ran to completion despite cancelled context")
	}
}
