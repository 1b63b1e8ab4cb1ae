package llm

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    Role
	Content string
}

// Conversation builds a single-shot prompt: the system instructions, when
// present, followed by the user's turn.
func Conversation(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}

// CompletionRequest is one call to a chat model. An empty Model uses the
// provider default.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode asks for a single JSON object as the reply.
	JSONMode bool
}

// StopReason says why the model stopped writing.
type StopReason string

const (
	StopComplete StopReason = "complete"
	StopLength   StopReason = "length"
)

// stopReasonOf folds the provider-specific finish reasons into StopReason.
// Unknown reasons are kept verbatim.
func stopReasonOf(raw string) StopReason {
	switch raw {
	case "", "stop", "end_turn", "stop_sequence":
		return StopComplete
	case "length", "max_tokens":
		return StopLength
	default:
		return StopReason(raw)
	}
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
	Stop    StopReason
}

// Truncated reports whether the reply was cut off at the token cap.
func (r *CompletionResponse) Truncated() bool {
	return r.Stop == StopLength
}
