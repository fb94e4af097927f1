package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	models "github.com/Desarso/taxassist/models"
)

func sseServer(t *testing.T, status int, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, c := range chunks {
			finish := "null"
			if i == len(chunks)-1 {
				finish = `"stop"`
			}
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":%s}]}\n\n", c, finish)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamModelRequest_ForwardsChunksInOrder(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{"The standard ", "deduction is ", "$14,600."})
	defer srv.Close()

	m := &OpenAI_Model{APIKey: "test", BaseURL: srv.URL}
	respChan, errChan := m.Stream_Model_Request(context.Background(), models.Model_Request{
		System:   "be brief",
		Messages: []models.Message{{Role: models.RoleUser, Content: "standard deduction?"}},
	})
	text, err := models.Collect(context.Background(), respChan, errChan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "The standard deduction is $14,600." {
		t.Errorf("Expected concatenated chunks, got %q", text)
	}
}

func TestStreamModelRequest_AuthErrorIsPermanent(t *testing.T) {
	srv := sseServer(t, http.StatusUnauthorized, nil)
	defer srv.Close()

	m := &OpenAI_Model{APIKey: "bad", BaseURL: srv.URL, Options: nil}
	respChan, errChan := m.Stream_Model_Request(context.Background(), models.Model_Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	_, err := models.Collect(context.Background(), respChan, errChan)
	if err == nil {
		t.Fatal("expected error")
	}
	if !models.IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestStreamModelRequest_MissingKey(t *testing.T) {
	t.Setenv("TAXASSIST_TEST_EMPTY_KEY", "")
	m := &OpenAI_Model{APIKeyEnv: "TAXASSIST_TEST_EMPTY_KEY"}
	respChan, errChan := m.Stream_Model_Request(context.Background(), models.Model_Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	_, err := models.Collect(context.Background(), respChan, errChan)
	if !models.IsPermanent(err) {
		t.Errorf("Expected permanent error for missing key, got %v", err)
	}
}

func TestBuildMessages_SystemFirst(t *testing.T) {
	msgs := buildMessages(models.Model_Request{
		System: "sys",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "a"},
			{Role: models.RoleAssistant, Content: "b"},
		},
	})
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Error("Expected first message to be the system message")
	}
	if msgs[2].OfAssistant == nil {
		t.Error("Expected last message to be the assistant message")
	}
}
