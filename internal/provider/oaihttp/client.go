package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/planforge/planforge-backend/internal/provider"
	"github.com/planforge/planforge-backend/internal/provider/config"
)

// Engine streams chat completions from any OpenAI-compatible endpoint
// (OpenAI, vLLM, SGLang) and adapts them to the provider contract.
type Engine struct {
	name    string
	baseURL string
	apiKey  string
	model   string

	chatCompletionsPath string

	timeout       time.Duration
	streamTimeout time.Duration

	httpClient *http.Client
}

func New(cfg config.ProviderConfig) (*Engine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("oai_http: base_url required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("oai_http: model required")
	}

	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "oai_http"
	}

	return &Engine{
		name:                name,
		baseURL:             baseURL,
		apiKey:              strings.TrimSpace(cfg.APIKey),
		model:               model,
		chatCompletionsPath: chatPath,
		timeout:             timeout,
		streamTimeout:       cfg.StreamTimeout.Duration,
		httpClient:          &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg config.ProviderConfig, httpClient *http.Client) (*Engine, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		e.httpClient = httpClient
	}
	return e, nil
}

func (e *Engine) Name() string { return e.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`

	// Optional OpenAI-compatible extensions supported by vLLM/SGLang variants.
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	GuidedJSON     any            `json:"guided_json,omitempty"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

// Generate opens a streamed chat completion. The returned stream's channel
// is fed by a goroutine that owns the response body; the channel is closed
// when the upstream finishes, errors, or the context is cancelled. A
// non-2xx status is returned synchronously as an *provider.HTTPError.
func (e *Engine) Generate(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	msgs := toChatMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("no messages")
	}

	reqBody := chatCompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if req.Schema != nil && req.Schema.Schema != nil {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
		reqBody.GuidedJSON = req.Schema.Schema
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, err
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if e.streamTimeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, e.streamTimeout)
	} else {
		ctx2, cancel = context.WithCancel(ctx)
	}

	httpReq, err := http.NewRequestWithContext(ctx2, "POST", e.baseURL+e.chatCompletionsPath, &buf)
	if err != nil {
		cancel()
		return nil, err
	}
	e.setHeaders(httpReq, "application/json", "text/event-stream")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		cancel()
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	ch := make(chan provider.Chunk, 8)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		err := streamSSE(resp.Body, func(_ string, data string) error {
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				return nil
			}

			var chunk chatCompletionStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil
			}
			if chunk.Error != nil {
				b, _ := json.Marshal(chunk.Error)
				return fmt.Errorf("upstream stream error: %s", string(b))
			}

			for _, c := range chunk.Choices {
				delta := c.Delta.Content
				if delta == "" {
					delta = c.Text
				}
				if delta == "" {
					continue
				}
				select {
				case ch <- provider.Chunk{Text: delta}:
				case <-ctx2.Done():
					return ctx2.Err()
				}
			}
			return nil
		})
		if err != nil {
			// Surface the context error rather than the wrapped read
			// failure when the caller cancelled mid-stream.
			if ctxErr := ctx2.Err(); ctxErr != nil {
				err = ctxErr
			}
			select {
			case ch <- provider.Chunk{Err: err}:
			default:
			}
		}
	}()

	return &provider.Stream{
		Metadata: provider.Metadata{Provider: e.name, Model: e.model},
		Chunks:   ch,
	}, nil
}

func toChatMessages(messages []provider.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		role := strings.TrimSpace(m.Role)
		content := strings.TrimSpace(m.Content)
		if role == "" || content == "" {
			continue
		}
		out = append(out, chatMessage{Role: role, Content: content})
	}
	return out
}

func (e *Engine) setHeaders(req *http.Request, contentType string, accept string) {
	if strings.TrimSpace(contentType) != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(accept) != "" {
		req.Header.Set("Accept", accept)
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}
