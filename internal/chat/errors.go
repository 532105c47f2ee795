package chat

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// UpstreamError is returned when a provider answers with a non-2xx status
// before streaming starts.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string // provider error message, when it could be parsed
	Body       []byte // raw (truncated) response body
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(fmt.Sprintf("http %d", e.StatusCode))
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// SafeMessage is the text forwarded to clients. It never includes the raw body.
func (e *UpstreamError) SafeMessage() string {
	return fmt.Sprintf("Error response from %s: %d", e.Provider, e.StatusCode)
}

// AsUpstreamError reports whether err wraps an *UpstreamError.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsRateLimit reports whether err is an upstream 429.
func IsRateLimit(err error) bool {
	ue, ok := AsUpstreamError(err)
	return ok && ue.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether err is an upstream authentication failure.
func IsAuth(err error) bool {
	ue, ok := AsUpstreamError(err)
	return ok && (ue.StatusCode == http.StatusUnauthorized || ue.StatusCode == http.StatusForbidden)
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// NewUpstreamError reads the (bounded) body of a non-2xx response. message
// extracts the provider's error text from the body and may be nil.
func NewUpstreamError(provider string, resp *http.Response, message func(body []byte) string) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ue := &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Body: body}
	if message != nil {
		ue.Message = message(body)
	}
	return ue
}
