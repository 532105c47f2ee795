package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/consumer"
	"github.com/longkey1/llmrelay/internal/prefs"
)

func TestReplyPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &replyPrinter{out: &out}

	turn := func(reply string) []chat.Turn { return []chat.Turn{{User: "hi", Assistant: reply}} }
	p.print(consumer.Snapshot{Turns: turn(""), State: consumer.Sending})
	p.print(consumer.Snapshot{Turns: turn("He"), State: consumer.Streaming})
	p.print(consumer.Snapshot{Turns: turn("Hello"), State: consumer.Streaming})
	p.print(consumer.Snapshot{Turns: turn("Hello"), State: consumer.Idle})
	// a repeated snapshot prints nothing
	p.print(consumer.Snapshot{Turns: turn("Hello"), State: consumer.Idle})

	assert.Equal(t, "Hello\n", out.String())
}

func TestReplyPrinter_Clear(t *testing.T) {
	var out bytes.Buffer
	p := &replyPrinter{out: &out}

	p.print(consumer.Snapshot{Turns: []chat.Turn{{User: "hi", Assistant: "Hel"}}, State: consumer.Streaming})
	p.print(consumer.Snapshot{State: consumer.Idle})
	p.print(consumer.Snapshot{Turns: []chat.Turn{{User: "again", Assistant: "ok"}}, State: consumer.Idle})

	assert.Equal(t, "Hel\nok\n", out.String())
}

func TestChatSession_Model(t *testing.T) {
	store := &prefs.MemStore{}
	require.NoError(t, store.Save(prefs.Prefs{Model: "claude", Theme: "dark"}))

	var out bytes.Buffer
	s, err := newChatSession(consumer.New(nil, nil), store, "gpt", &out)
	require.NoError(t, err)
	assert.Equal(t, "claude", s.model.Label)

	assert.True(t, s.command("/model gptTurbo"))
	assert.Equal(t, chat.ProviderGPT, s.model.Provider)

	p, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, prefs.Prefs{Model: "gptTurbo", Theme: "dark"}, p)

	out.Reset()
	assert.True(t, s.command("/model nope"))
	assert.True(t, strings.HasPrefix(out.String(), "Error:"))
	assert.Equal(t, "gptTurbo", s.model.Label)

	assert.False(t, s.command("/exit"))
}

func TestChatSession_DefaultModel(t *testing.T) {
	s, err := newChatSession(consumer.New(nil, nil), &prefs.MemStore{}, "gemini", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, chat.ProviderGemini, s.model.Provider)

	_, err = newChatSession(consumer.New(nil, nil), &prefs.MemStore{}, "unknown", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestChatSession_Describe(t *testing.T) {
	c := consumer.New(nil, nil)
	path := filepath.Join(t.TempDir(), "prefs.toml")
	s, err := newChatSession(c, prefs.NewFileStore(path), "claude", &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	s.describe(&out, "http://localhost:8080")

	id := c.Snapshot().ConversationID
	assert.Equal(t,
		"Relay: http://localhost:8080\n"+
			"Model: claude:claude\n"+
			"Conversation: "+id[:8]+"\n"+
			"Prefs: "+path+"\n",
		out.String())

	out.Reset()
	s.store = &prefs.MemStore{}
	s.describe(&out, "http://localhost:8080")
	assert.NotContains(t, out.String(), "Prefs:")
}

func TestChatSession_ClearShowsNewConversation(t *testing.T) {
	c := consumer.New(nil, nil)
	var out bytes.Buffer
	s, err := newChatSession(c, &prefs.MemStore{}, "gpt", &out)
	require.NoError(t, err)

	before := c.Snapshot().ConversationID
	assert.True(t, s.command("/clear"))

	after := c.Snapshot().ConversationID
	assert.NotEqual(t, before, after)
	assert.Equal(t, "Started a new conversation ("+chat.ShortID(after)+").\n", out.String())
}
