package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/provider"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond}
}

type scriptedProvider struct {
	name  string
	errs  []error
	calls int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	call := p.calls
	p.calls++
	if call < len(p.errs) && p.errs[call] != nil {
		return nil, p.errs[call]
	}
	ch := make(chan provider.Chunk, 1)
	ch <- provider.Chunk{Text: "{}"}
	close(ch)
	return &provider.Stream{
		Metadata: provider.Metadata{Provider: p.name, Model: "scripted"},
		Chunks:   ch,
	}, nil
}

func backendFor(p *scriptedProvider) Backend {
	return Backend{Name: p.name, Factory: func() (provider.Provider, error) { return p, nil }}
}

func TestRouterRetriesRetryableThenSucceeds(t *testing.T) {
	p := &scriptedProvider{name: "a", errs: []error{&provider.HTTPError{StatusCode: 429}}}
	r, err := New(testLogger(t), fastPolicy(), []Backend{backendFor(p)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, err := r.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if stream.Metadata.Provider != "a" {
		t.Fatalf("provider: want=%q got=%q", "a", stream.Metadata.Provider)
	}
	if p.calls != 2 {
		t.Fatalf("call count: want=2 got=%d", p.calls)
	}
}

func TestRouterRetryBudgetExhaustedFallsBack(t *testing.T) {
	a := &scriptedProvider{name: "a", errs: []error{
		&provider.HTTPError{StatusCode: 503},
		&provider.HTTPError{StatusCode: 503},
		&provider.HTTPError{StatusCode: 503},
	}}
	b := &scriptedProvider{name: "b"}
	r, err := New(testLogger(t), fastPolicy(), []Backend{backendFor(a), backendFor(b)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, err := r.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if stream.Metadata.Provider != "b" {
		t.Fatalf("provider: want=%q got=%q", "b", stream.Metadata.Provider)
	}
	// 1 initial + MaxRetries on the first backend, then the second.
	if a.calls != 2 {
		t.Fatalf("first backend calls: want=2 got=%d", a.calls)
	}
	if b.calls != 1 {
		t.Fatalf("second backend calls: want=1 got=%d", b.calls)
	}
}

func TestRouterNonRetryableSkipsStraightToNextBackend(t *testing.T) {
	a := &scriptedProvider{name: "a", errs: []error{&provider.HTTPError{StatusCode: 400}}}
	b := &scriptedProvider{name: "b"}
	r, err := New(testLogger(t), fastPolicy(), []Backend{backendFor(a), backendFor(b)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, err := r.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if stream.Metadata.Provider != "b" {
		t.Fatalf("provider: want=%q got=%q", "b", stream.Metadata.Provider)
	}
	if a.calls != 1 {
		t.Fatalf("first backend calls: want=1 got=%d", a.calls)
	}
}

func TestRouterAllBackendsFailReturnsLastError(t *testing.T) {
	lastErr := &provider.HTTPError{StatusCode: 500, Body: "b down"}
	a := &scriptedProvider{name: "a", errs: []error{
		&provider.HTTPError{StatusCode: 500},
		&provider.HTTPError{StatusCode: 500},
	}}
	b := &scriptedProvider{name: "b", errs: []error{lastErr, lastErr}}
	r, err := New(testLogger(t), fastPolicy(), []Backend{backendFor(a), backendFor(b)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = r.Generate(context.Background(), provider.Request{})
	if err == nil {
		t.Fatalf("Generate: expected error, got nil")
	}
	var httpErr *provider.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Body != "b down" {
		t.Fatalf("last error body: want=%q got=%q", "b down", httpErr.Body)
	}
}

func TestRouterCancelledContextStopsImmediately(t *testing.T) {
	a := &scriptedProvider{name: "a", errs: []error{context.Canceled}}
	b := &scriptedProvider{name: "b"}
	r, err := New(testLogger(t), fastPolicy(), []Backend{backendFor(a), backendFor(b)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = r.Generate(context.Background(), provider.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.calls != 0 {
		t.Fatalf("second backend calls: want=0 got=%d", b.calls)
	}
}

func TestRouterRequiresBackends(t *testing.T) {
	if _, err := New(testLogger(t), fastPolicy(), nil); err == nil {
		t.Fatalf("New: expected error for empty backend list")
	}
}

func TestRouterFactoryErrorFallsThrough(t *testing.T) {
	broken := Backend{Name: "broken", Factory: func() (provider.Provider, error) {
		return nil, errors.New("no credentials")
	}}
	b := &scriptedProvider{name: "b"}
	r, err := New(testLogger(t), fastPolicy(), []Backend{broken, backendFor(b)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, err := r.Generate(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if stream.Metadata.Provider != "b" {
		t.Fatalf("provider: want=%q got=%q", "b", stream.Metadata.Provider)
	}
}
