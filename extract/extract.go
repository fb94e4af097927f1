// Package extract recovers the fenced table and chart payloads that the
// assistant embeds in its markdown answers.
//
// The wire format is line-oriented and literal:
//
//	|||TABLE_DATA|||
//	{ "tableData": [ { "label": "Total Income", "amount": 85000 } ] }
//	|||END_TABLE|||
//
// Everything here is pure and safe to run on partially streamed text. A block
// whose end marker has not arrived yet is reported as absent.
package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

const (
	TableStart = "|||TABLE_DATA|||"
	TableEnd   = "|||END_TABLE|||"
	ChartStart = "|||CHART_DATA|||"
	ChartEnd   = "|||END_CHART|||"
)

var logger = log.New(os.Stderr, "[EXTRACT] ", log.LstdFlags)

// SetLogger replaces the package logger. A nil logger discards output.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(discard{}, "", 0)
	}
	logger = l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Payload is a decoded block body.
type Payload struct {
	// Raw is the sanitized, standard JSON text of the block.
	Raw   json.RawMessage
	Value any
}

// Get reads a gjson path from the payload.
func (p Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p.Raw, path)
}

// Extract returns the JSON payload fenced by the first startMarker and the
// first endMarker after it. It reports false when either marker is missing or
// when the body does not parse, in which case the failure is logged.
func Extract(content, startMarker, endMarker string) (Payload, bool) {
	p, _, ok := find(content, startMarker, endMarker)
	return p, ok
}

// find is Extract that also returns the span of the whole block.
func find(content, startMarker, endMarker string) (Payload, [2]int, bool) {
	body, from, to, ok := locate(content, startMarker, endMarker)
	if !ok {
		return Payload{}, [2]int{}, false
	}
	p, err := decode(body)
	if err != nil {
		logger.Printf("Ignoring malformed %s block: %v", startMarker, err)
		return Payload{}, [2]int{}, false
	}
	return p, [2]int{from, to}, true
}

// locate finds the first fenced block. from and to delimit the whole block,
// markers included.
func locate(content, startMarker, endMarker string) (body string, from, to int, ok bool) {
	if startMarker == "" || endMarker == "" {
		return "", 0, 0, false
	}
	from = strings.Index(content, startMarker)
	if from < 0 {
		return "", 0, 0, false
	}
	bodyStart := from + len(startMarker)
	rel := strings.Index(content[bodyStart:], endMarker)
	if rel < 0 {
		return "", 0, 0, false
	}
	bodyEnd := bodyStart + rel
	return strings.TrimSpace(content[bodyStart:bodyEnd]), from, bodyEnd + len(endMarker), true
}

func decode(body string) (Payload, error) {
	clean, err := Sanitize(body)
	if err != nil {
		return Payload{}, err
	}
	var v any
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return Payload{}, fmt.Errorf("parse: %w", err)
	}
	return Payload{Raw: json.RawMessage(clean), Value: v}, nil
}

// Sanitize turns near-JSON into standard JSON: // line comments, /* */ block
// comments and trailing commas before } or ] are removed. Text inside string
// literals is left alone.
func Sanitize(s string) (string, error) {
	s = stripFence(strings.TrimSpace(s))
	v, err := hujson.Parse([]byte(s))
	if err != nil {
		return "", fmt.Errorf("sanitize: %w", err)
	}
	v.Standardize()
	return strings.TrimSpace(string(v.Pack())), nil
}

// stripFence removes a markdown code fence wrapped around the body, which
// models add now and then despite the instructions.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := s[3 : len(s)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], "{[") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}
