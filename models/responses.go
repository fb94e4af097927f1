package models

// Model_Response is one incremental chunk of a streamed completion.
type Model_Response struct {
	Text string `json:"text"`
	// FinishReason is set on the last chunk when the provider reports one.
	FinishReason string `json:"finish_reason,omitempty"`
}
