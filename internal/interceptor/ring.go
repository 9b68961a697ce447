// Package interceptor sits between chat clients and the inference server.
//
// Every generate/chat request passes one decision point: if a synthetic
// reply is pending for the prompt it is returned in the server's own
// envelope, otherwise the request is forwarded untouched and the finished
// exchange is handed to an Observer. The Watcher observer screens prompts
// for publish intent and runs the publish pipeline out of band.
package interceptor

import (
	"sync"
	"time"
)

// Exchange is one prompt/response pair seen by the interceptor.
type Exchange struct {
	At       time.Time `json:"at"`
	Endpoint string    `json:"endpoint"`
	Model    string    `json:"model,omitempty"`
	Prompt   string    `json:"prompt"`
	Stream   bool      `json:"stream"`
	Response string    `json:"response,omitempty"`
	Injected bool      `json:"injected"`
	Origin   string    `json:"origin"` // proxy or log
}

// Ring keeps the most recent exchanges, evicting the oldest first.
type Ring struct {
	mu   sync.Mutex
	buf  []Exchange
	next int
	full bool
}

// NewRing returns a ring holding at most capacity exchanges (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Exchange, capacity)}
}

// Add appends ex, overwriting the oldest entry when full.
func (r *Ring) Add(ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ex
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the held exchanges, oldest first.
func (r *Ring) Snapshot() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Exchange(nil), r.buf[:r.next]...)
	}
	out := make([]Exchange, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len reports how many exchanges are held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
