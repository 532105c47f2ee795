package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/frame"
)

const (
	ProviderName   = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-pro"
)

// Models maps catalog labels to Gemini model names.
var Models = map[string]string{
	"gemini": "gemini-pro",
}

// Framing of the streamGenerateContent SSE stream. The stream has no
// terminal record; it ends when the connection closes.
var Framing = frame.Config{
	Separator: "data: ",
	Extract:   frame.FirstEvent,
}

// GeminiRequest represents the request body for Gemini's generate content API
type GeminiRequest struct {
	Contents []GeminiContent `json:"contents"`
}

// GeminiContent represents a content item in the Gemini request format
type GeminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content in the Gemini request format
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiResponse represents one streamed response chunk
type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
	Error      *GeminiError      `json:"error,omitempty"`
}

// GeminiCandidate represents a candidate response
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

// GeminiError represents an error object returned by the API
type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Config defines the configuration interface for Gemini provider
type Config interface {
	GetBaseURL(provider string) (string, error)
	GetToken(provider string) (string, error)
	GetModelOverrides(provider string) map[string]string
}

// Provider implements the chat.Adapter interface for Gemini
type Provider struct {
	config Config
	client *http.Client
}

// NewProvider creates a new Gemini provider instance
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
	return chat.ProviderGemini
}

// ResolveModel maps a catalog label to a Gemini model name
func (p *Provider) ResolveModel(label string) string {
	return chat.ModelMapping(label, DefaultModel, Models, p.config.GetModelOverrides(ProviderName))
}

// BuildContents converts messages to Gemini contents. Gemini requires the
// roles to alternate, so consecutive messages of one role are merged.
func BuildContents(messages []chat.Message) []GeminiContent {
	contents := make([]GeminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, GeminiPart{Text: m.Content})
			continue
		}
		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: m.Content}}})
	}
	return contents
}

// Open sends a streamGenerateContent request
func (p *Provider) Open(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	reqBody := GeminiRequest{Contents: BuildContents(req.Messages)}

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

	model := p.ResolveModel(req.Model)
	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		baseURL, url.PathEscape(model), url.QueryEscape(token))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// the request URL carries the API key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("error sending request: %w", uerr.Err)
		}
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, chat.NewUpstreamError(ProviderName, resp, errorMessage)
	}

	return resp.Body, nil
}

func errorMessage(body []byte) string {
	// errors may come as an object or as a one-element array
	var resp struct {
		Error *GeminiError `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Error != nil {
		return resp.Error.Message
	}
	var list []struct {
		Error *GeminiError `json:"error"`
	}
	if json.Unmarshal(body, &list) == nil && len(list) > 0 && list[0].Error != nil {
		return list[0].Error.Message
	}
	return ""
}

// NewDecoder returns a decoder for one streamGenerateContent stream
func (p *Provider) NewDecoder(log logrus.FieldLogger) chat.Decoder {
	return &decoder{frames: frame.New(Framing, parseResponse, log)}
}

func parseResponse(payload []byte) (GeminiResponse, error) {
	var r GeminiResponse
	err := json.Unmarshal(payload, &r)
	return r, err
}

type decoder struct {
	frames *frame.Decoder[GeminiResponse]
}

func (d *decoder) Decode(chunk []byte) []chat.Event {
	return events(d.frames.Feed(chunk))
}

func (d *decoder) Flush() []chat.Event {
	return events(d.frames.Flush())
}

func events(frames []frame.Frame[GeminiResponse]) []chat.Event {
	out := make([]chat.Event, 0, len(frames))
	for _, f := range frames {
		r := f.Value
		if r.Error != nil {
			out = append(out, chat.Event{Err: r.Error.Message})
			continue
		}
		out = append(out, chat.Event{Content: candidateText(r)})
	}
	return out
}

// candidateText concatenates the text parts of the first candidate
func candidateText(r GeminiResponse) string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
