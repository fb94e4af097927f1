package models

import "strings"

// Roles accepted in a conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation as exchanged between the chat client
// and the relay.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references an uploaded document.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// IsValidRole reports whether role is one of system, user or assistant.
func IsValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// IsBlank reports whether the message carries neither text nor attachments.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0
}

// ProviderText renders the message for a text-only completion API. Attachments
// are listed after the content since document analysis is simulated.
func (m Message) ProviderText() string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[Attachment: ")
		b.WriteString(a.Name)
		if a.ContentType != "" {
			b.WriteString(" (" + a.ContentType + ")")
		}
		if a.URL != "" {
			b.WriteString(" " + a.URL)
		}
		b.WriteString("]")
	}
	return b.String()
}

// CloneMessages returns a deep copy of msgs so callers can hand out snapshots.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}
