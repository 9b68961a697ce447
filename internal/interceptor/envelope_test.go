package interceptor

import (
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestParseRequest(t *testing.T) {
	g := ParseRequest(EndpointGenerate, []byte(`{"model":"llama","prompt":"publish form abc123"}`))
	if g.Model != "llama" || g.Prompt != "publish form abc123" || !g.Stream {
		t.Fatalf("generate = %+v", g)
	}

	c := ParseRequest(EndpointChat, []byte(`{"model":"llama","stream":false,"messages":[
		{"role":"system","content":"be nice"},
		{"role":"user","content":"first"},
		{"role":"assistant","content":"ok"},
		{"role":"user","content":"publish form abc123"}]}`))
	if c.Prompt != "publish form abc123" || c.Stream {
		t.Fatalf("chat = %+v", c)
	}
}

func TestSyntheticResponse_Envelopes(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	body, ct := SyntheticResponse(Request{Endpoint: EndpointGenerate, Model: "m", Stream: true}, "hi", now)
	if ct != "application/x-ndjson" {
		t.Fatalf("stream content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 || gjson.Get(lines[0], "response").String() != "hi" || !gjson.Get(lines[1], "done").Bool() {
		t.Fatalf("stream body = %s", body)
	}
	if Reassemble(body) != "hi" {
		t.Fatalf("reassembled = %q", Reassemble(body))
	}

	body, ct = SyntheticResponse(Request{Endpoint: EndpointChat, Model: "m", Stream: false}, "hi", now)
	if !strings.HasPrefix(ct, "application/json") ||
		gjson.GetBytes(body, "message.content").String() != "hi" ||
		gjson.GetBytes(body, "message.role").String() != "assistant" ||
		gjson.GetBytes(body, "created_at").String() != "2024-01-02T03:04:05Z" {
		t.Fatalf("chat body = %s", body)
	}
}

func TestReassemble(t *testing.T) {
	chat := "{\"message\":{\"content\":\"Hel\"}}\nnot json\n{\"message\":{\"content\":\"lo\"},\"done\":true}\n"
	if got := Reassemble([]byte(chat)); got != "Hello" {
		t.Fatalf("chat stream = %q", got)
	}
	pretty := "{\n  \"response\": \"whole\",\n  \"done\": true\n}"
	if got := Reassemble([]byte(pretty)); got != "whole" {
		t.Fatalf("single object = %q", got)
	}
	if got := Reassemble(nil); got != "" {
		t.Fatalf("empty = %q", got)
	}
}
