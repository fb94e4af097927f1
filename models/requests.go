package models

// Chat_Request is the body accepted by the relay endpoint. The caller sends
// the full ordered history for the turn.
type Chat_Request struct {
	Messages []Message `json:"messages"`
	// Document_Text optionally carries raw text of an uploaded document
	// (file-analysis mode). It is folded into the system prompt.
	Document_Text string `json:"document_text,omitempty"`
}

// Model_Request is what a completion client receives: one system instruction
// plus the conversation history, system messages excluded.
type Model_Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
}

// LastUserContent returns the content of the last user message, or "".
func (r Model_Request) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Size approximates the request payload size in bytes for logging.
func (r Model_Request) Size() int {
	n := len(r.System)
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	return n
}
