package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longkey1/llmrelay/internal/chat"
)

type testConfig struct {
	baseURL string
}

func (c testConfig) GetBaseURL(string) (string, error) { return c.baseURL, nil }
func (c testConfig) GetToken(string) (string, error) { return "g-test", nil }
func (c testConfig) GetModelOverrides(string) map[string]string { return nil }

func TestBuildContents(t *testing.T) {
	got := BuildContents([]chat.Message{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleUser, Content: "b"},
		{Role: chat.RoleAssistant, Content: "c"},
		{Role: chat.RoleUser, Content: "d"},
	})

	assert.Equal(t, []GeminiContent{
		{Role: "user", Parts: []GeminiPart{{Text: "a"}, {Text: "b"}}},
		{Role: "model", Parts: []GeminiPart{{Text: "c"}}},
		{Role: "user", Parts: []GeminiPart{{Text: "d"}}},
	}, got)
}

func TestProvider_Open(t *testing.T) {
	var got GeminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "g-test", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"},{\"text\":\"lo\"}],\"role\":\"model\"}}]}\r\n\r\n")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\", world\"}],\"role\":\"model\"},\"finishReason\":\"STOP\"}]}\r\n\r\n")
	}))
	defer srv.Close()

	p := NewProvider(testConfig{baseURL: srv.URL})
	body, err := p.Open(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
		Model:    "gemini",
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	dec := p.NewDecoder(nil)
	events := append(dec.Decode(raw), dec.Flush()...)

	assert.Equal(t, []GeminiContent{{Role: "user", Parts: []GeminiPart{{Text: "hello"}}}}, got.Contents)
	assert.Equal(t, []chat.Event{{Content: "Hello"}, {Content: ", world"}}, events)
}

func TestProvider_OpenUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `[{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}]`)
	}))
	defer srv.Close()

	_, err := NewProvider(testConfig{baseURL: srv.URL}).Open(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	})

	require.Error(t, err)
	ue, ok := chat.AsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, "Resource has been exhausted", ue.Message)
	assert.NotContains(t, ue.SafeMessage(), "g-test")
}

const responseStream = "data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"SSE ends with \"},{\"text\": \"data: [DONE]\"}],\"role\": \"model\"},\"index\": 0}]}\r\n\r\n" +
	"data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \" in OpenAI streams\"}],\"role\": \"model\"},\"finishReason\": \"STOP\",\"index\": 0}]}\r\n\r\n"

func TestDecoder_EverySplit(t *testing.T) {
	p := NewProvider(testConfig{})
	whole := p.NewDecoder(nil)
	want := append(whole.Decode([]byte(responseStream)), whole.Flush()...)

	// no terminal literal: the stream ends when the upstream closes
	require.Equal(t, []chat.Event{
		{Content: "SSE ends with data: [DONE]"},
		{Content: " in OpenAI streams"},
	}, want)

	for i := 0; i <= len(responseStream); i++ {
		dec := p.NewDecoder(nil)
		got := dec.Decode([]byte(responseStream[:i]))
		got = append(got, dec.Decode([]byte(responseStream[i:]))...)
		got = append(got, dec.Flush()...)
		require.Equal(t, want, got, "split at %d", i)
	}
}

func TestDecoder_StreamError(t *testing.T) {
	dec := NewProvider(testConfig{}).NewDecoder(nil)

	events := dec.Decode([]byte("data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"Hel\"}]}}]}\r\n\r\n" +
		"data: {\"error\": {\"code\": 503, \"message\": \"The model is overloaded.\", \"status\": \"UNAVAILABLE\"}}\r\n\r\n"))

	assert.Equal(t, []chat.Event{{Content: "Hel"}, {Err: "The model is overloaded."}}, events)
}

func TestDecoder_FlushesLastResponse(t *testing.T) {
	dec := NewProvider(testConfig{}).NewDecoder(nil)

	// the upstream closed without the blank line ending the event
	assert.Empty(t, dec.Decode([]byte("data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"bye\"}]}}]}")))
	assert.Equal(t, []chat.Event{{Content: "bye"}}, dec.Flush())
}
