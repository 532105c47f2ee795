package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/frame"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4"
)

// Models maps catalog labels to OpenAI model names.
var Models = map[string]string{
	"gpt":      "gpt-4",
	"gptTurbo": "gpt-4-1106-preview",
}

// Framing of the chat completions event stream.
var Framing = frame.Config{
	Separator: "data: ",
	Terminal:  "[DONE]",
	Extract:   frame.FirstEvent,
}

// ChatRequest represents the request body for the chat completions API
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

// StreamChunk represents one streamed chat completion chunk
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
	Error   *APIError      `json:"error,omitempty"`
}

// StreamChoice represents a choice of a streamed chunk
type StreamChoice struct {
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries the incremental content of a choice
type Delta struct {
	Content string `json:"content"`
}

// APIError represents an error object returned by the API
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Config defines the configuration interface for OpenAI provider
type Config interface {
	GetBaseURL(provider string) (string, error)
	GetToken(provider string) (string, error)
	GetModelOverrides(provider string) map[string]string
}

// Provider implements the chat.Adapter interface for OpenAI
type Provider struct {
	config Config
	client *http.Client
}

// NewProvider creates a new OpenAI provider instance
func NewProvider(config Config) *Provider {
	return &Provider{
		config: config,
		client: &http.Client{},
	}
}

// SetHTTPClient replaces the client used for upstream requests
func (p *Provider) SetHTTPClient(client *http.Client) {
	p.client = client
}

// Name returns the route identifier
func (p *Provider) Name() string {
	return chat.ProviderGPT
}

// ResolveModel maps a catalog label to an OpenAI model name
func (p *Provider) ResolveModel(label string) string {
	return chat.ModelMapping(label, DefaultModel, Models, p.config.GetModelOverrides(ProviderName))
}

// Open sends a streaming chat completion request
func (p *Provider) Open(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	reqBody := ChatRequest{
		Model:    p.ResolveModel(req.Model),
		Messages: req.Messages,
		Stream:   true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	token, err := p.config.GetToken(ProviderName)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	baseURL, err := p.config.GetBaseURL(ProviderName)
	if err != nil {
		return nil, fmt.Errorf("failed to get base URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, chat.NewUpstreamError(ProviderName, resp, errorMessage)
	}

	return resp.Body, nil
}

// errorMessage extracts error.message from an error response body
func errorMessage(body []byte) string {
	var resp struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Error != nil {
		return resp.Error.Message
	}
	return ""
}

// NewDecoder returns a decoder for one chat completions stream
func (p *Provider) NewDecoder(log logrus.FieldLogger) chat.Decoder {
	return &decoder{frames: frame.New(Framing, parseChunk, log)}
}

func parseChunk(payload []byte) (StreamChunk, error) {
	var c StreamChunk
	err := json.Unmarshal(payload, &c)
	return c, err
}

type decoder struct {
	frames *frame.Decoder[StreamChunk]
}

func (d *decoder) Decode(chunk []byte) []chat.Event {
	return events(d.frames.Feed(chunk))
}

func (d *decoder) Flush() []chat.Event {
	return events(d.frames.Flush())
}

func events(frames []frame.Frame[StreamChunk]) []chat.Event {
	out := make([]chat.Event, 0, len(frames))
	for _, f := range frames {
		switch {
		case f.Terminal:
			out = append(out, chat.Event{Done: true})
		case f.Value.Error != nil:
			out = append(out, chat.Event{Err: f.Value.Error.Message})
		case len(f.Value.Choices) > 0:
			out = append(out, chat.Event{Content: f.Value.Choices[0].Delta.Content})
		default:
			out = append(out, chat.Event{})
		}
	}
	return out
}
