package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/openai"
)

type nopConfig struct{}

func (nopConfig) GetBaseURL(string) (string, error) { return "", nil }
func (nopConfig) GetToken(string) (string, error) { return "", nil }
func (nopConfig) GetModelOverrides(string) map[string]string { return nil }

// fakeAdapter serves canned chunks through a pipe, decoding them as an
// OpenAI-style stream.
type fakeAdapter struct {
	*openai.Provider
	chunks  []string
	openErr error
	readErr error
	hang    bool
	stall   bool // Open never answers
	opened  chan context.Context
}

func newFake(chunks ...string) *fakeAdapter {
	return &fakeAdapter{
		Provider: openai.NewProvider(nopConfig{}),
		chunks:   chunks,
		opened:   make(chan context.Context, 1),
	}
}

func (f *fakeAdapter) Open(ctx context.Context, _ chat.Request) (io.ReadCloser, error) {
	f.opened <- ctx
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	pr, pw := io.Pipe()
	go func() {
		for _, c := range f.chunks {
			if _, err := pw.Write([]byte(c)); err != nil {
				return
			}
		}
		switch {
		case f.hang:
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		case f.readErr != nil:
			pw.CloseWithError(f.readErr)
		default:
			pw.Close()
		}
	}()
	return pr, nil
}

var helloRequest = chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}}}

func drain(t *testing.T, s *Stream) []chat.OutboundMessage {
	t.Helper()
	var out []chat.OutboundMessage
	for {
		m, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, m)
	}
	_, err := s.Recv()
	require.ErrorIs(t, err, io.EOF)

	terminals := 0
	for _, m := range out {
		if m.IsTerminal() {
			terminals++
		}
	}
	require.Equal(t, 1, terminals, "terminal exactly once")
	require.True(t, out[len(out)-1].IsTerminal(), "terminal last")
	return out
}

func TestStream_Success(t *testing.T) {
	f := newFake(
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\ndata: {\"choi",
		"ces\":[{\"delta\":{\"content\":\"llo\"}}]}\n\nda",
		"ta: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\ndata: [DONE]\n\n",
	)

	s := Open(context.Background(), f, helloRequest, Options{})
	got := drain(t, s)

	assert.Equal(t, []chat.OutboundMessage{
		chat.Content("He"),
		chat.Content("llo"),
		chat.Content(", world"),
		chat.Terminal(),
	}, got)
	assert.Equal(t, 3, s.Stats().Fragments)
	assert.Equal(t, CauseTerminal, s.Stats().Cause)
	assert.Positive(t, s.Stats().Bytes)
}

func TestStream_EOFWithoutTerminal(t *testing.T) {
	f := newFake("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")

	s := Open(context.Background(), f, helloRequest, Options{})

	assert.Equal(t, []chat.OutboundMessage{chat.Content("partial"), chat.Terminal()}, drain(t, s))
	assert.Equal(t, CauseEOF, s.Stats().Cause)
}

func TestStream_UpstreamRejected(t *testing.T) {
	f := newFake()
	f.openErr = &chat.UpstreamError{Provider: "openai", StatusCode: http.StatusTooManyRequests, Message: "Rate limit reached"}

	s := Open(context.Background(), f, helloRequest, Options{})

	assert.Equal(t, []chat.OutboundMessage{
		chat.Failure("Error response from openai: 429"),
		chat.Terminal(),
	}, drain(t, s))
	assert.Equal(t, CauseUpstreamErr, s.Stats().Cause)
}

func TestStream_ConnectFailure(t *testing.T) {
	f := newFake()
	f.openErr = errors.New("dial tcp: connection refused")

	s := Open(context.Background(), f, helloRequest, Options{})

	assert.Equal(t, []chat.OutboundMessage{chat.Failure(MsgConnectFailed), chat.Terminal()}, drain(t, s))
}

func TestStream_ErrorEventEndsStream(t *testing.T) {
	f := newFake(
		"data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n",
		"data: {\"error\":{\"message\":\"overloaded\"}}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n",
	)

	s := Open(context.Background(), f, helloRequest, Options{})

	assert.Equal(t, []chat.OutboundMessage{
		chat.Content("He"),
		chat.Failure("overloaded"),
		chat.Terminal(),
	}, drain(t, s))
}

func TestStream_ReadErrorKeepsPartial(t *testing.T) {
	f := newFake("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
	f.readErr = errors.New("connection reset by peer")

	s := Open(context.Background(), f, helloRequest, Options{})

	assert.Equal(t, []chat.OutboundMessage{
		chat.Content("He"),
		chat.Failure(MsgInterrupted),
		chat.Terminal(),
	}, drain(t, s))
	assert.Equal(t, CauseReadErr, s.Stats().Cause)
}

func TestStream_IdleTimeout(t *testing.T) {
	f := newFake("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
	f.hang = true

	s := Open(context.Background(), f, helloRequest, Options{IdleTimeout: 50 * time.Millisecond})
	upstreamCtx := <-f.opened

	assert.Equal(t, []chat.OutboundMessage{
		chat.Content("He"),
		chat.Failure(MsgIdleTimeout),
		chat.Terminal(),
	}, drain(t, s))
	assert.Equal(t, CauseIdle, s.Stats().Cause)
	assert.Error(t, upstreamCtx.Err(), "upstream released")
}

func TestStream_CloseReleasesUpstream(t *testing.T) {
	f := newFake("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
	f.hang = true

	s := Open(context.Background(), f, helloRequest, Options{})
	upstreamCtx := <-f.opened

	m, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, chat.Content("He"), m)

	time.AfterFunc(20*time.Millisecond, func() { s.Close() })

	m, err = s.Recv()
	require.NoError(t, err)
	assert.True(t, m.IsTerminal())
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-upstreamCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("upstream context was not canceled")
	}
	assert.NoError(t, s.Close())
}

func TestStream_ParentCancel(t *testing.T) {
	f := newFake()
	f.hang = true
	ctx, cancel := context.WithCancel(context.Background())

	s := Open(ctx, f, helloRequest, Options{})
	cancel()

	assert.Equal(t, []chat.OutboundMessage{chat.Terminal()}, drain(t, s))
	assert.Equal(t, CauseCanceled, s.Stats().Cause)
}

func TestStream_IdleTimeoutWhileConnecting(t *testing.T) {
	f := newFake()
	f.stall = true

	s := Open(context.Background(), f, helloRequest, Options{IdleTimeout: 50 * time.Millisecond})
	out := drain(t, s)

	assert.Equal(t, []chat.OutboundMessage{chat.Failure(MsgIdleTimeout), chat.Terminal()}, out)
	assert.Equal(t, CauseIdle, s.Stats().Cause)
	assert.Error(t, (<-f.opened).Err())
}

func TestStream_UpstreamRejectionLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  logrus.Level
		msg    string
	}{
		{"unauthorized", http.StatusUnauthorized, logrus.ErrorLevel, "upstream rejected credentials"},
		{"forbidden", http.StatusForbidden, logrus.ErrorLevel, "upstream rejected credentials"},
		{"rate limited", http.StatusTooManyRequests, logrus.WarnLevel, "upstream rate limited"},
		{"server error", http.StatusBadGateway, logrus.WarnLevel, "upstream rejected request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			f := newFake()
			f.openErr = &chat.UpstreamError{Provider: "openai", StatusCode: tt.status}

			s := Open(context.Background(), f, helloRequest, Options{Log: logger})
			drain(t, s)

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, tt.level, hook.LastEntry().Level)
			assert.Equal(t, tt.msg, hook.LastEntry().Message)
			assert.Equal(t, CauseUpstreamErr, s.Stats().Cause)
		})
	}
}
