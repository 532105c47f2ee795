// Package chat provides the canonical data model shared by the relay and its clients.
// It defines the Adapter interface that every upstream provider implementation
// (openai, anthropic, gemini) must implement, together with the wire protocol
// used between the relay and the stream consumer.
package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message sent upstream
type Message struct {
	Role    Role   `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // Message content
}

// Request is the provider-neutral request accepted by the relay.
// Model is a catalog label (e.g. "gptTurbo"); adapters map it to a concrete model name.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
}

// Validate checks that the request can be forwarded upstream.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// Turn is one user message and its (possibly partial) assistant reply.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Conversation is the ordered transcript of a client session.
// The ID scopes logging only; the relay keeps no state for it.
type Conversation struct {
	ID    string `json:"id"` // UUID v4
	Turns []Turn `json:"turns"`
}

// NewConversation creates an empty conversation with a fresh ID
func NewConversation() *Conversation {
	return &Conversation{
		ID:    uuid.New().String(),
		Turns: []Turn{},
	}
}

// ShortID returns the shortened conversation ID (first 8 characters)
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// Event is one normalized upstream event produced by an adapter's decoder.
type Event struct {
	Content string // text fragment, may be empty
	Err     string // upstream reported an error inside the stream
	Done    bool   // upstream terminal marker
}

// Decoder turns raw upstream chunks into events. A Decoder is bound to a single
// upstream connection and must not be shared.
type Decoder interface {
	// Decode consumes the next chunk and returns the events it completes.
	Decode(chunk []byte) []Event
	// Flush is called once the upstream closes and returns any event still buffered.
	Flush() []Event
}

// Adapter defines the interface for upstream providers.
// All provider implementations (openai, anthropic, gemini) must implement this interface.
//
// Example usage:
//
//	adapter := openai.NewProvider(cfg)
//	body, err := adapter.Open(ctx, req)
//	dec := adapter.NewDecoder(log)
type Adapter interface {
	// Name returns the route identifier of the provider (e.g. "gpt").
	Name() string

	// Open starts an upstream streaming request. A non-2xx response is returned
	// as an *UpstreamError before any byte of the stream is read.
	Open(ctx context.Context, req Request) (io.ReadCloser, error)

	// NewDecoder returns a fresh decoder for one upstream connection.
	NewDecoder(log logrus.FieldLogger) Decoder

	// ResolveModel maps a catalog label to the concrete upstream model name.
	ResolveModel(label string) string
}

// ModelMapping resolves a label through overrides first and then defaults.
// Overrides are matched case-insensitively because configuration keys are lowercased.
func ModelMapping(label, fallback string, defaults, overrides map[string]string) string {
	if label == "" {
		return fallback
	}
	if v, ok := overrides[strings.ToLower(label)]; ok && v != "" {
		return v
	}
	if v, ok := defaults[label]; ok {
		return v
	}
	return label
}
