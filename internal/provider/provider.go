package provider

import "context"

type Message struct {
	Role    string
	Content string
}

type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

type Request struct {
	Messages    []Message
	Temperature float64
	Schema      *JSONSchema
}

// Chunk is one fragment of a streamed response. A non-nil Err terminates the
// stream; no further chunks follow it.
type Chunk struct {
	Text string
	Err  error
}

type Metadata struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Stream is a live response: Chunks is closed by the producer when the
// upstream response ends, whether normally or with a trailing error chunk.
type Stream struct {
	Metadata Metadata
	Chunks   <-chan Chunk
}

// Provider is an opaque generation backend. Implementations must honor ctx
// cancellation by tearing down the upstream request, not merely by ceasing
// to deliver chunks.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Stream, error)
}

// Factory defers construction so the router can rebuild a backend per
// attempt.
type Factory func() (Provider, error)
