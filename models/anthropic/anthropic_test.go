package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	models "github.com/Desarso/taxassist/models"
)

func TestBuildMessages_MergesConsecutiveRoles(t *testing.T) {
	msgs := buildMessages([]models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "second"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleSystem, Content: "ignored"},
	})
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages after merge, got %d", len(msgs))
	}
	if len(msgs[0].Content) != 2 {
		t.Errorf("Expected merged user message with 2 blocks, got %d", len(msgs[0].Content))
	}
}

func TestFinishReason(t *testing.T) {
	cases := map[string]string{
		"end_turn":   "stop",
		"max_tokens": "length",
		"":           "",
	}
	for in, want := range cases {
		if got := finishReason(sdk.StopReason(in)); got != want {
			t.Errorf("finishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamModelRequest_TextDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start` + "\n" + `data: {"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":0}}}`,
			`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}`,
			`event: content_block_stop` + "\n" + `data: {"type":"content_block_stop","index":0}`,
			`event: message_delta` + "\n" + `data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
			`event: message_stop` + "\n" + `data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprint(w, e+"\n\n")
		}
	}))
	defer srv.Close()

	m := &Anthropic_Model{APIKey: "test", BaseURL: srv.URL}
	var finish string
	respChan, errChan := m.Stream_Model_Request(context.Background(), models.Model_Request{
		System:   "sys",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	var text string
	err := models.Consume(context.Background(), respChan, errChan, func(r models.Model_Response) error {
		text += r.Text
		if r.FinishReason != "" {
			finish = r.FinishReason
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello there" {
		t.Errorf("Expected %q, got %q", "Hello there", text)
	}
	if finish != "stop" {
		t.Errorf("Expected finish reason stop, got %q", finish)
	}
}
