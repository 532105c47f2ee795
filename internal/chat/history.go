package chat

// Request size limits applied by the client before sending.
const (
	HistoryTurns  = 10   // most recent prior turns carried upstream
	FragmentChars = 1000 // characters kept from each assistant reply
)

// BuildRequest assembles the request for a new user input. prior holds the
// turns that precede the new one.
//
// The messages are the last HistoryTurns prior turns, each as its user
// message followed by its assistant reply truncated to FragmentChars, and
// finally the new input. Empty replies (failed or canceled turns) are left out.
func BuildRequest(prior []Turn, input, model string) Request {
	window := prior
	if len(window) > HistoryTurns {
		window = window[len(window)-HistoryTurns:]
	}

	messages := make([]Message, 0, 2*len(window)+1)
	for _, t := range window {
		messages = append(messages, Message{Role: RoleUser, Content: t.User})
		if t.Assistant != "" {
			messages = append(messages, Message{Role: RoleAssistant, Content: TruncateChars(t.Assistant, FragmentChars)})
		}
	}
	messages = append(messages, Message{Role: RoleUser, Content: input})

	return Request{Messages: messages, Model: model}
}

// TruncateChars returns at most n characters (runes) of s.
func TruncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
