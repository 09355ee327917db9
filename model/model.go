// Package model defines the language-model completion interface consumed by
// the pipeline stages, a helper for collecting streamed output, and mock
// implementations for tests. Provider adapters live in the openai and
// anthropic subpackages.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one conversational input to the model.
type Message struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Request captures the normalized model input produced by pipeline stages.
type Request struct {
	System   string    `json:"system,omitempty"` // system prompt / instructions
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	Partial      bool   `json:"partial"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface required to drive generation. The raw
// response text is untrusted free text; callers needing structure must
// validate it (see Decode).
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate result down to the final response text. Partial
// chunks are concatenated when no final chunk carries the full text.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (string, error) {
	var partials strings.Builder
	var final string
	var sawFinal bool
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partials.WriteString(r.Text)
				continue
			}
			final = r.Text
			sawFinal = true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}
	if sawFinal && final != "" {
		return final, nil
	}
	if partials.Len() > 0 {
		return partials.String(), nil
	}
	if sawFinal {
		return final, nil
	}
	return "", fmt.Errorf("model produced no response")
}

// MockModel is a lightweight in-memory Model for tests. Responses can be
// keyed by the last message text, or enqueued to be consumed in FIFO order
// regardless of input. Queued entries take precedence over keyed ones.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []queued
	calls     int
}

type queued struct {
	text string
	err  error
}

// NewMockModel constructs an empty MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic completion for an input message.
func (m *MockModel) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// Enqueue appends a response consumed by the next Generate call.
func (m *MockModel) Enqueue(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{text: response})
}

// EnqueueError appends an error consumed by the next Generate call.
func (m *MockModel) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{err: err})
}

// Calls returns how many Generate calls were made.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	var next *queued
	if len(m.queue) > 0 {
		q := m.queue[0]
		m.queue = m.queue[1:]
		next = &q
	}
	var keyed string
	if next == nil && len(req.Messages) > 0 {
		keyed = m.responses[req.Messages[len(req.Messages)-1].Text]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		switch {
		case next != nil && next.err != nil:
			errCh <- next.err
		case next != nil:
			respCh <- Response{Text: next.text, FinishReason: "stop"}
		case keyed != "":
			respCh <- Response{Text: keyed, FinishReason: "stop"}
		default:
			errCh <- fmt.Errorf("mock model has no response for request")
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
