// Package interceptor – wire envelopes
//
// The inference server answers /api/generate and /api/chat either as one
// JSON object or as newline-delimited JSON chunks when streaming. This file
// extracts prompts from requests, reassembles replies from either shape and
// builds synthetic replies in the shape the client asked for.
package interceptor

import (
	"bufio"
	"bytes"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Inference endpoints the interceptor inspects.
const (
	EndpointGenerate = "/api/generate"
	EndpointChat     = "/api/chat"
)

// Request is the part of a generate/chat request body the interceptor uses.
type Request struct {
	Endpoint string
	Model    string
	Prompt   string
	Stream   bool
}

// ParseRequest reads model, prompt and stream flag from a request body.
// Streaming is the server default when the flag is absent. For chat requests
// the prompt is the content of the last user message.
func ParseRequest(endpoint string, body []byte) Request {
	req := Request{Endpoint: endpoint, Model: gjson.GetBytes(body, "model").String(), Stream: true}
	if s := gjson.GetBytes(body, "stream"); s.Exists() {
		req.Stream = s.Bool()
	}
	switch endpoint {
	case EndpointChat:
		users := gjson.GetBytes(body, `messages.#(role=="user")#.content`).Array()
		if n := len(users); n > 0 {
			req.Prompt = users[n-1].String()
		}
	default:
		req.Prompt = gjson.GetBytes(body, "prompt").String()
	}
	return req
}

// SyntheticResponse renders reply in the envelope the real server would use
// for req, and returns the body with its content type.
func SyntheticResponse(req Request, reply string, now time.Time) ([]byte, string) {
	ts := now.UTC().Format(time.RFC3339Nano)
	base := `{}`
	base, _ = sjson.Set(base, "model", req.Model)
	base, _ = sjson.Set(base, "created_at", ts)

	chunk := base
	if req.Endpoint == EndpointChat {
		chunk, _ = sjson.Set(chunk, "message.role", "assistant")
		chunk, _ = sjson.Set(chunk, "message.content", reply)
	} else {
		chunk, _ = sjson.Set(chunk, "response", reply)
	}

	if !req.Stream {
		chunk, _ = sjson.Set(chunk, "done", true)
		chunk, _ = sjson.Set(chunk, "done_reason", "stop")
		return []byte(chunk), "application/json; charset=utf-8"
	}

	chunk, _ = sjson.Set(chunk, "done", false)
	final := base
	if req.Endpoint == EndpointChat {
		final, _ = sjson.Set(final, "message.role", "assistant")
		final, _ = sjson.Set(final, "message.content", "")
	} else {
		final, _ = sjson.Set(final, "response", "")
	}
	final, _ = sjson.Set(final, "done", true)
	final, _ = sjson.Set(final, "done_reason", "stop")
	return []byte(chunk + "\n" + final + "\n"), "application/x-ndjson"
}

// Reassemble joins the text of a response body, which is either one JSON
// object or newline-delimited streamed chunks. Lines that are not JSON are
// ignored.
func Reassemble(body []byte) string {
	if t := bytes.TrimSpace(body); gjson.ValidBytes(t) {
		if r := gjson.GetBytes(t, "response"); r.Exists() {
			return r.String()
		}
		return gjson.GetBytes(t, "message.content").String()
	}
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		if r := gjson.GetBytes(line, "response"); r.Exists() {
			b.WriteString(r.String())
			continue
		}
		b.WriteString(gjson.GetBytes(line, "message.content").String())
	}
	return b.String()
}
