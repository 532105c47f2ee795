package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/longkey1/llmrelay/internal/chat"
)

// Transport opens the relay stream of one request. Returning without error
// means the relay accepted the request and the stream is open.
type Transport interface {
	Open(ctx context.Context, provider, conversationID string, req chat.Request) (io.ReadCloser, error)
}

// RelayError is returned when the relay rejects a request before streaming.
type RelayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay: http %d", e.StatusCode)
	}
	return fmt.Sprintf("relay: http %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport posts requests to a relay over HTTP
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Open sends POST {relay}/chat/{provider}
func (t *HTTPTransport) Open(ctx context.Context, provider, conversationID string, req chat.Request) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := t.baseURL + "/chat/" + url.PathEscape(provider)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(chat.ConversationHeader, conversationID)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		re := &RelayError{StatusCode: resp.StatusCode}
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			re.Code = apiErr.Code
			re.Message = apiErr.Message
		}
		return nil, re
	}

	return resp.Body, nil
}
