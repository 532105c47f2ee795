package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/frame"
)

const (
	ProviderName     = "anthropic"
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultModel     = "claude-2.1"
	AnthropicVersion = "2023-06-01"
	MaxTokens        = 5000
)

// Models maps catalog labels to Anthropic model names.
var Models = map[string]string{
	"claude":        "claude-2.1",
	"claudeInstant": "claude-instant-1.2",
}

// Framing of the text completions event stream. Records are cut at the
// completion event name and carry their payload on the data line.
var Framing = frame.Config{
	Separator: "event: completion",
	Extract:   frame.DataLine,
}

const (
	humanPrompt     = "\n\nHuman:"
	assistantPrompt = "\n\nAssistant:"
)

// CompleteRequest represents the request body for the text completions API
type CompleteRequest struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	MaxTokensToSample int    `json:"max_tokens_to_sample"`
	Stream            bool   `json:"stream"`
}

// Completion represents the data of one completion event
type Completion struct {
	Completion *string   `json:"completion"`
	StopReason *string   `json:"stop_reason"`
	Model      string    `json:"model,omitempty"`
	Error      *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Config defines the configuration interface for Anthropic provider
type Config interface {
	GetBaseURL(provider string) (string, error)
	GetToken(provider string) (string, error)
	GetModelOverrides(provider string) map[string]string
}

// Provider implements the chat.Adapter interface for Anthropic
type Provider struct {
	config Config
	client *http.Client
}

// NewProvider creates a new Anthropic provider instance
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
	return chat.ProviderClaude
}

// ResolveModel maps a catalog label to an Anthropic model name
func (p *Provider) ResolveModel(label string) string {
	return chat.ModelMapping(label, DefaultModel, Models, p.config.GetModelOverrides(ProviderName))
}

// BuildPrompt renders the conversation as alternating Human/Assistant turns,
// leaving the final Assistant turn open.
func BuildPrompt(messages []chat.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == chat.RoleAssistant {
			b.WriteString(assistantPrompt)
		} else {
			b.WriteString(humanPrompt)
		}
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	b.WriteString(assistantPrompt)
	return b.String()
}

// Open sends a streaming completion request
func (p *Provider) Open(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	reqBody := CompleteRequest{
		Model:             p.ResolveModel(req.Model),
		Prompt:            BuildPrompt(req.Messages),
		MaxTokensToSample: MaxTokens,
		Stream:            true,
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/complete", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", token)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)

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

func errorMessage(body []byte) string {
	var resp struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Error != nil {
		return resp.Error.Message
	}
	return ""
}

var errNotCompletion = errors.New("not a completion event")

// parseCompletion rejects data of other events (ping) so they never count as
// fragments.
func parseCompletion(payload []byte) (Completion, error) {
	var c Completion
	if err := json.Unmarshal(payload, &c); err != nil {
		return c, err
	}
	if c.Completion == nil && c.Error == nil {
		return c, errNotCompletion
	}
	return c, nil
}

// NewDecoder returns a decoder for one completion stream
func (p *Provider) NewDecoder(log logrus.FieldLogger) chat.Decoder {
	return &decoder{frames: frame.New(Framing, parseCompletion, log)}
}

type decoder struct {
	frames  *frame.Decoder[Completion]
	started bool
}

func (d *decoder) Decode(chunk []byte) []chat.Event {
	return d.events(d.frames.Feed(chunk))
}

func (d *decoder) Flush() []chat.Event {
	return d.events(d.frames.Flush())
}

func (d *decoder) events(frames []frame.Frame[Completion]) []chat.Event {
	var out []chat.Event
	for _, f := range frames {
		c := f.Value
		if c.Error != nil {
			out = append(out, chat.Event{Err: c.Error.Message})
			continue
		}

		var text string
		if c.Completion != nil {
			text = *c.Completion
		}
		// the completion starts with the space that followed "Assistant:"
		if !d.started {
			text = strings.TrimLeft(text, " \t\r\n")
			d.started = text != ""
		}
		out = append(out, chat.Event{Content: text})

		if c.StopReason != nil && *c.StopReason != "" {
			out = append(out, chat.Event{Done: true})
		}
	}
	return out
}
