package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turns(n int) []Turn {
	out := make([]Turn, n)
	for i := range out {
		out[i] = Turn{User: fmt.Sprintf("q%d", i), Assistant: fmt.Sprintf("a%d", i)}
	}
	return out
}

func TestBuildRequest_FirstTurn(t *testing.T) {
	req := BuildRequest(nil, "hello", "gpt")

	assert.Equal(t, "gpt", req.Model)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, req.Messages)
}

func TestBuildRequest_InterleavesReplies(t *testing.T) {
	prior := []Turn{{User: "u1", Assistant: "a1"}, {User: "u2", Assistant: "a2"}}

	req := BuildRequest(prior, "u3", "gpt")

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "u2"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleUser, Content: "u3"},
	}, req.Messages)
}

func TestBuildRequest_TruncatesHistory(t *testing.T) {
	prior := turns(15)
	prior[5].Assistant = strings.Repeat("x", 2500)
	prior[14].Assistant = strings.Repeat("y", 2500)

	req := BuildRequest(prior, "next", "claude")

	require.Len(t, req.Messages, 2*HistoryTurns+1)
	// most recent turns are kept, oldest dropped
	assert.Equal(t, Message{Role: RoleUser, Content: "q5"}, req.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "q14"}, req.Messages[2*HistoryTurns-2])

	assert.Equal(t, RoleAssistant, req.Messages[1].Role)
	assert.Len(t, req.Messages[1].Content, FragmentChars)
	assert.Len(t, req.Messages[2*HistoryTurns-1].Content, FragmentChars)

	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, Message{Role: RoleUser, Content: "next"}, last)
}

func TestBuildRequest_SkipsEmptyAssistant(t *testing.T) {
	prior := []Turn{{User: "hi", Assistant: ""}, {User: "again", Assistant: "ok"}}

	req := BuildRequest(prior, "third", "gpt")

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleUser, Content: "again"},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: "third"},
	}, req.Messages)
}

func TestBuildRequest_BoundForAnyHistory(t *testing.T) {
	for n := 0; n <= 25; n++ {
		req := BuildRequest(turns(n), "in", "gpt")
		assert.LessOrEqual(t, len(req.Messages), 2*HistoryTurns+1, "history %d", n)
		users := 0
		for _, m := range req.Messages {
			if m.Role == RoleUser {
				users++
			}
			if m.Role == RoleAssistant {
				assert.LessOrEqual(t, len([]rune(m.Content)), FragmentChars)
			}
		}
		assert.LessOrEqual(t, users, HistoryTurns+1, "history %d", n)
	}
}

func TestTruncateChars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "shorter", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abcde", n: 5, want: "abcde"},
		{name: "longer", in: "abcdef", n: 3, want: "abc"},
		{name: "multibyte", in: "こんにちは世界", n: 5, want: "こんにちは"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateChars(tt.in, tt.n))
		})
	}
}

func TestRequestValidate(t *testing.T) {
	assert.Error(t, Request{}.Validate())
	assert.Error(t, Request{Messages: []Message{{Role: "system", Content: "x"}}}.Validate())
	assert.NoError(t, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}.Validate())
}
