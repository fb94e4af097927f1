// Package client talks to the relay endpoint and turns its event stream back
// into an ordered chunk stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Desarso/taxassist/attachments"
	"github.com/Desarso/taxassist/models"
	"github.com/tidwall/gjson"
)

// ErrTruncated means the relay stream ended without a done frame.
var ErrTruncated = errors.New("stream ended before completion")

// StreamError is a failure after part of the answer was received.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx relay response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// RelayError is an error frame sent by the relay.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string { return "relay: " + e.Message }

// Client posts conversations to a relay.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// Stream sends the full conversation and streams the assistant's answer. The
// chunk channel carries text in arrival order; the error channel receives at
// most one error. Both are closed when the stream ends. Cancelling ctx
// abandons the stream.
func (c *Client) Stream(ctx context.Context, req models.Chat_Request) (<-chan models.Model_Response, <-chan error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.FailedStream(fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return models.FailedStream(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	respChan := make(chan models.Model_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		resp, err := c.httpClient().Do(httpReq)
		if err != nil {
			errChan <- fmt.Errorf("send request: %w", err)
			return
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			errChan <- err
			return
		}

		if err := readFrames(ctx, resp.Body, respChan); err != nil {
			errChan <- err
		}
	}()

	return respChan, errChan
}

// Upload sends a document to the relay's upload endpoint.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (attachments.UploadResponse, error) {
	var out attachments.UploadResponse

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(attachments.FormField, filepath.Base(filename))
	if err != nil {
		return out, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return out, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return out, fmt.Errorf("build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload", &body)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode upload response: %w", err)
	}
	return out, nil
}

// checkStatus turns a non-2xx response into an HTTPError carrying the
// relay's {"error": ...} message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := gjson.GetBytes(data, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// readFrames forwards delta frames until done. Errors are wrapped in a
// StreamError carrying the text received so far.
func readFrames(ctx context.Context, body io.Reader, out chan<- models.Model_Response) error {
	reader := NewSSEReader(body)
	var partial strings.Builder
	fail := func(err error) error {
		return &StreamError{Partial: partial.String(), Err: err}
	}

	for {
		event, data, err := reader.ReadEvent()
		if err == io.EOF {
			return fail(ErrTruncated)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fail(err)
		}

		switch event {
		case "delta":
			text := gjson.GetBytes(data, "text").String()
			partial.WriteString(text)
			if !models.Emit(ctx, out, models.Model_Response{Text: text}) {
				return ctx.Err()
			}
		case "error":
			return fail(&RelayError{Message: gjson.GetBytes(data, "error").String()})
		case "done":
			finish := gjson.GetBytes(data, "finish_reason").String()
			if finish != "" {
				models.Emit(ctx, out, models.Model_Response{FinishReason: finish})
			}
			return nil
		}
	}
}
