// Package llm wraps model providers behind a single opaque invocation
// contract. Agent node bodies depend only on the Client interface; the
// concrete provider is chosen at process start from configuration.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem is the system prompt.
	RoleSystem Role = "system"
	// RoleUser is end-user content.
	RoleUser Role = "user"
	// RoleAssistant is model output fed back as context.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the model's reply to one invocation.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Client is the opaque model invocation contract consumed by agent nodes.
type Client interface {
	// Invoke sends the messages and returns the model's reply.
	Invoke(ctx context.Context, messages []Message) (*Response, error)
	// ModelName identifies the underlying model for tracing.
	ModelName() string
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// FakeClient returns scripted responses in order. Safe for concurrent use.
type FakeClient struct {
	mu        sync.Mutex
	responses []string
	calls     [][]Message
	err       error
}

// NewFakeClient creates a fake that replies with the given responses in
// order, repeating the last one when exhausted.
func NewFakeClient(responses ...string) *FakeClient {
	return &FakeClient{responses: responses}
}

// NewFailingClient creates a fake whose every invocation fails with err.
func NewFailingClient(err error) *FakeClient {
	return &FakeClient{err: err}
}

// Invoke returns the next scripted response.
func (f *FakeClient) Invoke(_ context.Context, messages []Message) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, messages)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fake client has no scripted responses")
	}

	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	content := f.responses[idx]
	return &Response{
		Content: content,
		Usage:   Usage{InputTokens: int64(len(messages) * 8), OutputTokens: int64(len(content) / 4)},
	}, nil
}

// ModelName identifies the fake.
func (f *FakeClient) ModelName() string {
	return "fake"
}

// Calls returns the message sets seen so far.
func (f *FakeClient) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}
