package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge-backend/internal/failure"
	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/provider"
	"github.com/planforge/planforge-backend/internal/types"
)

const planDoc = `{
	"modules": [
		{"title": "Foundations", "estimated_minutes": 120, "tasks": [
			{"title": "Read", "estimated_minutes": 60},
			{"title": "Practice", "estimated_minutes": 60}
		]},
		{"title": "Projects", "estimated_minutes": 180, "tasks": [
			{"title": "Build", "estimated_minutes": 180}
		]}
	]
}`

type genOutcome struct {
	err  error
	text string
	hang bool
}

type fakeGenerator struct {
	outcomes []genOutcome
	calls    int
	lastCtx  context.Context
}

func (g *fakeGenerator) Generate(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	out := genOutcome{text: planDoc}
	if g.calls < len(g.outcomes) {
		out = g.outcomes[g.calls]
	}
	g.calls++
	g.lastCtx = ctx

	if out.err != nil {
		return nil, out.err
	}

	ch := make(chan provider.Chunk, 8)
	if out.hang {
		// Channel intentionally left open; only ctx cancellation ends it.
		ch <- provider.Chunk{Text: `{"modules": [{"title": "stuck"`}
	} else {
		text := out.text
		go func() {
			defer close(ch)
			for i := 0; i < len(text); i += 32 {
				end := i + 32
				if end > len(text) {
					end = len(text)
				}
				select {
				case ch <- provider.Chunk{Text: text[i:end]}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return &provider.Stream{
		Metadata: provider.Metadata{Provider: "fake", Model: "fake-1"},
		Chunks:   ch,
	}, nil
}

func collectEvents(t *testing.T, ch <-chan generation.Event) []generation.Event {
	t.Helper()
	var out []generation.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events; got %d so far", len(out))
		}
	}
}

func newGenEnv(t *testing.T, attemptCap int, gen Generator) (*ledgerEnv, PlanGenerationService) {
	t.Helper()
	env := newLedgerEnv(t, attemptCap)
	svc := NewPlanGenerationService(testLogger(t), env.ledger, gen, generation.DefaultLimits(), nil)
	return env, svc
}

func TestGenerationSuccessEventSequence(t *testing.T) {
	env, svc := newGenEnv(t, 3, &fakeGenerator{})

	events, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := collectEvents(t, events)

	if got[0].Type != generation.EventPlanStart {
		t.Fatalf("first event: want=%q got=%q", generation.EventPlanStart, got[0].Type)
	}
	last := got[len(got)-1]
	if last.Type != generation.EventComplete {
		t.Fatalf("last event: want=%q got=%q", generation.EventComplete, last.Type)
	}
	if last.ModulesCount != 2 || last.TasksCount != 3 {
		t.Fatalf("complete counts: want=2/3 got=%d/%d", last.ModulesCount, last.TasksCount)
	}

	summaries := 0
	firstModuleProgress := false
	for _, ev := range got {
		switch ev.Type {
		case generation.EventModuleSummary:
			summaries++
		case generation.EventProgress:
			if ev.Message == "first module streaming" {
				firstModuleProgress = true
			}
		case generation.EventError, generation.EventCancelled:
			t.Fatalf("unexpected terminal event %q", ev.Type)
		}
	}
	if summaries != 2 {
		t.Fatalf("module summaries: want=2 got=%d", summaries)
	}
	if !firstModuleProgress {
		t.Fatalf("missing first-module progress event")
	}

	plan := env.plan(t)
	if plan.GenerationStatus != types.PlanStatusReady {
		t.Fatalf("plan status: want=%q got=%q", types.PlanStatusReady, plan.GenerationStatus)
	}
}

func TestGenerationValidationFailureIsTerminal(t *testing.T) {
	gen := &fakeGenerator{outcomes: []genOutcome{
		{text: `{"modules": []}`},
	}}
	env, svc := newGenEnv(t, 3, gen)

	events, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Type != generation.EventError {
		t.Fatalf("last event: want=%q got=%q", generation.EventError, last.Type)
	}
	if last.Classification != string(failure.KindValidation) {
		t.Fatalf("classification: want=%q got=%q", failure.KindValidation, last.Classification)
	}
	if last.Retryable {
		t.Fatalf("retryable: want=false got=true")
	}

	plan := env.plan(t)
	if plan.GenerationStatus != types.PlanStatusFailed {
		t.Fatalf("plan status: want=%q got=%q", types.PlanStatusFailed, plan.GenerationStatus)
	}
	if plan.Eligible {
		t.Fatalf("plan eligible after validation failure: want=false got=true")
	}

	// An early parse exit must tear down the backend request.
	if gen.lastCtx.Err() == nil {
		t.Fatalf("stream context not cancelled after parse failure")
	}
}

func TestGenerationProviderFailureIsRetryable(t *testing.T) {
	env, svc := newGenEnv(t, 3, &fakeGenerator{outcomes: []genOutcome{
		{err: &provider.HTTPError{StatusCode: 500, Body: "boom"}},
	}})

	events, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Type != generation.EventError {
		t.Fatalf("last event: want=%q got=%q", generation.EventError, last.Type)
	}
	if last.Classification != string(failure.KindProviderError) {
		t.Fatalf("classification: want=%q got=%q", failure.KindProviderError, last.Classification)
	}
	if !last.Retryable {
		t.Fatalf("retryable: want=true got=false")
	}

	// A non-terminal failure leaves the plan generating, not failed.
	plan := env.plan(t)
	if plan.GenerationStatus != types.PlanStatusGenerating {
		t.Fatalf("plan status: want=%q got=%q", types.PlanStatusGenerating, plan.GenerationStatus)
	}
	if !plan.Eligible {
		t.Fatalf("plan eligible after retryable failure: want=true got=false")
	}

	// The plan accepts another attempt, and the second one can succeed.
	events2, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	got2 := collectEvents(t, events2)
	if got2[len(got2)-1].Type != generation.EventComplete {
		t.Fatalf("second attempt: want=%q got=%q", generation.EventComplete, got2[len(got2)-1].Type)
	}
}

func TestGenerationRejectsConcurrentStart(t *testing.T) {
	env, svc := newGenEnv(t, 3, &fakeGenerator{})

	// Hold a reservation open so Start sees an in-progress attempt.
	if _, err := env.ledger.Reserve(context.Background(), env.planID, env.userID, rawInput()); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	_, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}
}

func TestGenerationCancelledMidStream(t *testing.T) {
	env, svc := newGenEnv(t, 3, &fakeGenerator{outcomes: []genOutcome{{hang: true}}})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.Start(ctx, env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the stream to open, then pull the plug.
	select {
	case ev := <-events:
		if ev.Type != generation.EventPlanStart {
			t.Fatalf("first event: want=%q got=%q", generation.EventPlanStart, ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for plan_start")
	}
	cancel()

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatalf("expected a terminal event after cancellation")
	}
	last := got[len(got)-1]
	if last.Type != generation.EventCancelled {
		t.Fatalf("last event: want=%q got=%q", generation.EventCancelled, last.Type)
	}

	plan := env.plan(t)
	if plan.GenerationStatus != types.PlanStatusFailed {
		t.Fatalf("plan status: want=%q got=%q", types.PlanStatusFailed, plan.GenerationStatus)
	}
	if plan.Eligible {
		t.Fatalf("plan eligible after cancellation: want=false got=true")
	}

	attempts, err := env.ledger.ListAttempts(context.Background(), env.planID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Status != types.AttemptStatusFailure {
		t.Fatalf("attempt not finalized as failure: %+v", attempts)
	}
}

func TestGenerationTerminalEventSurvivesBackpressure(t *testing.T) {
	// More modules than the event buffer can hold: progress events overflow
	// and are dropped, but the terminal event must still arrive last.
	var sb strings.Builder
	sb.WriteString(`{"modules": [`)
	for i := 0; i < 40; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"title": "Module %d", "estimated_minutes": 60, "tasks": [{"title": "Task %d", "estimated_minutes": 30}]}`, i+1, i+1)
	}
	sb.WriteString(`]}`)

	env := newLedgerEnv(t, 3)
	gen := &fakeGenerator{outcomes: []genOutcome{{text: sb.String()}}}
	limits := generation.Limits{MaxBufferBytes: 1 << 20, MaxModules: 64, MaxTasksPerModule: 24}
	svc := NewPlanGenerationService(testLogger(t), env.ledger, gen, limits, nil)

	events, err := svc.Start(context.Background(), env.planID, env.userID, rawInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the producer run ahead and fill the buffer before we read.
	time.Sleep(200 * time.Millisecond)

	got := collectEvents(t, events)
	last := got[len(got)-1]
	if last.Type != generation.EventComplete {
		t.Fatalf("last event: want=%q got=%q", generation.EventComplete, last.Type)
	}
	if last.ModulesCount != 40 || last.TasksCount != 40 {
		t.Fatalf("complete counts: want=40/40 got=%d/%d", last.ModulesCount, last.TasksCount)
	}
	if env.plan(t).GenerationStatus != types.PlanStatusReady {
		t.Fatalf("plan status: want=%q got=%q", types.PlanStatusReady, env.plan(t).GenerationStatus)
	}
}
