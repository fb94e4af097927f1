package models

import (
	"log"
)

// SanitizeHistory prepares a client-supplied history for a completion API.
// It handles three issues:
// 1. System messages - the relay owns the single system prompt, so client copies are dropped
// 2. Blank messages - e.g. an assistant placeholder left behind by an abandoned stream
// 3. Leading assistant turns - providers expect the conversation to open with a user turn
//
// Order is never changed; messages are only removed.
func SanitizeHistory(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	kept := make([]Message, 0, len(msgs))
	for i, msg := range msgs {
		switch {
		case msg.Role == RoleSystem:
			log.Printf("[HISTORY_SANITIZER] Dropping client system message at index %d", i)
		case msg.IsBlank():
			log.Printf("[HISTORY_SANITIZER] Dropping blank %s message at index %d", msg.Role, i)
		default:
			kept = append(kept, msg)
		}
	}

	startIdx := findValidStartIndex(kept)
	if startIdx == -1 {
		log.Printf("[HISTORY_SANITIZER] No user message found, returning empty history")
		return []Message{}
	}
	if startIdx > 0 {
		log.Printf("[HISTORY_SANITIZER] Skipping first %d assistant message(s) to find valid start", startIdx)
	}
	return kept[startIdx:]
}

// findValidStartIndex returns the index of the first user message, or -1.
func findValidStartIndex(msgs []Message) int {
	for i, msg := range msgs {
		if msg.Role == RoleUser {
			return i
		}
	}
	return -1
}

// DetectCorruptedHistory checks a history for shapes that SanitizeHistory would
// repair or that upstream APIs may reject. Returns a list of issues found
// (empty if history is clean).
func DetectCorruptedHistory(msgs []Message) []string {
	issues := []string{}

	if len(msgs) == 0 {
		return issues
	}

	if msgs[0].Role == RoleAssistant {
		issues = append(issues, "History starts with an assistant message")
	}

	for _, msg := range msgs {
		if msg.Role == RoleSystem {
			issues = append(issues, "History contains a client system message")
			break
		}
	}

	for _, msg := range msgs {
		if msg.IsBlank() {
			issues = append(issues, "History contains a blank message")
			break
		}
	}

	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].Role == RoleUser && msgs[i].Role == RoleUser {
			issues = append(issues, "Two consecutive user messages")
			break
		}
	}

	if msgs[len(msgs)-1].Role != RoleUser {
		issues = append(issues, "History does not end with a user message")
	}

	return issues
}
