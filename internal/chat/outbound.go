package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire protocol constants shared by the relay and the consumer.
const (
	FramePrefix  = "data: "
	TerminalData = "[DONE]"

	// ConversationHeader carries the client conversation id. It scopes logs only.
	ConversationHeader = "X-Conversation-Id"
)

// Kind discriminates an OutboundMessage.
type Kind int

const (
	KindContent Kind = iota
	KindError
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindError:
		return "error"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// OutboundMessage is one record of the relay's SSE protocol.
type OutboundMessage struct {
	Kind Kind
	Text string // fragment for KindContent, message for KindError
}

// Content returns a content fragment message.
func Content(text string) OutboundMessage {
	return OutboundMessage{Kind: KindContent, Text: text}
}

// Failure returns an error message.
func Failure(msg string) OutboundMessage {
	return OutboundMessage{Kind: KindError, Text: msg}
}

// Terminal returns the terminal marker.
func Terminal() OutboundMessage {
	return OutboundMessage{Kind: KindTerminal}
}

// IsTerminal reports whether m closes the stream.
func (m OutboundMessage) IsTerminal() bool { return m.Kind == KindTerminal }

type wireMessage struct {
	Content *string `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// Encode renders the message as one SSE record terminated by a blank line.
func (m OutboundMessage) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(FramePrefix)
	switch m.Kind {
	case KindTerminal:
		buf.WriteString(TerminalData)
	default:
		text := m.Text
		w := wireMessage{Content: &text}
		if m.Kind == KindError {
			w = wireMessage{Error: &text}
		}
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		// Encoding a struct of string pointers cannot fail.
		_ = enc.Encode(w)
		buf.Truncate(buf.Len() - 1) // drop the encoder's newline
	}
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// ParseOutbound parses the JSON payload of one record (without the "data: " prefix).
// Objects carrying neither field decode as an empty content fragment.
func ParseOutbound(payload []byte) (OutboundMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return OutboundMessage{}, err
	}
	if w.Error != nil {
		return Failure(*w.Error), nil
	}
	if w.Content != nil {
		return Content(*w.Content), nil
	}
	return Content(""), nil
}
