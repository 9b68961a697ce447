// Package interceptor – short-lived stores
//
// Two small caches back the interceptor: pending injections (prompt -> reply,
// consumed on first match) and the set of exchanges already handled. Each has
// an in-process implementation with a janitor and a Redis implementation for
// deployments running more than one interceptor. Both expire entries after a
// TTL so nothing lingers once the user has moved on.
package interceptor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// InjectionStore holds synthetic replies keyed by normalized prompt. A reply
// is handed out at most once.
type InjectionStore interface {
	Put(ctx context.Context, prompt, reply string) error
	// Take returns and removes the reply for prompt. An exact key match wins;
	// otherwise a stored key that contains prompt, or is contained by it, is used.
	Take(ctx context.Context, prompt string) (string, bool, error)
}

// SeenSet remembers exchange keys for a while.
type SeenSet interface {
	// MarkSeen records key and reports whether it was already present.
	MarkSeen(ctx context.Context, key string) (bool, error)
}

var lower = cases.Lower(language.Und)

// NormalizePrompt trims and lower-cases a prompt for matching.
func NormalizePrompt(s string) string {
	return lower.String(strings.Join(strings.Fields(s), " "))
}

// ExchangeKey identifies a prompt/response pair within one minute.
func ExchangeKey(prompt, response string, at time.Time) string {
	sum := sha256.Sum256([]byte(prompt + "|" + response + "|" + at.UTC().Format("2006-01-02T15:04")))
	return hex.EncodeToString(sum[:])
}

// matchKey picks the stored key that best matches prompt: exact first, then
// the longest key in a containment relation with prompt.
func matchKey(keys []string, prompt string) (string, bool) {
	best := ""
	for _, k := range keys {
		if k == prompt {
			return k, true
		}
		if k == "" || prompt == "" {
			continue
		}
		if (strings.Contains(k, prompt) || strings.Contains(prompt, k)) && len(k) > len(best) {
			best = k
		}
	}
	return best, best != ""
}

type entry struct {
	value   string
	expires time.Time
}

// MemoryInjections is an in-process InjectionStore with TTL eviction.
type MemoryInjections struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryInjections returns a store whose entries expire after ttl.
func NewMemoryInjections(ttl time.Duration) *MemoryInjections {
	return &MemoryInjections{ttl: ttl, entries: map[string]entry{}, now: time.Now}
}

// Put queues reply for the next prompt matching prompt, replacing any reply
// already queued for it.
func (m *MemoryInjections) Put(_ context.Context, prompt, reply string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[NormalizePrompt(prompt)] = entry{value: reply, expires: m.now().Add(m.ttl)}
	return nil
}

// Take removes and returns the reply queued for prompt. An exact normalized
// match wins; otherwise the longest key contained in prompt, or containing
// it, is used.
func (m *MemoryInjections) Take(_ context.Context, prompt string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	k, ok := matchKey(keys, NormalizePrompt(prompt))
	if !ok {
		return "", false, nil
	}
	e := m.entries[k]
	delete(m.entries, k)
	return e.value, true, nil
}

// Len reports the number of live entries.
func (m *MemoryInjections) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.entries)
}

// Sweep drops expired entries.
func (m *MemoryInjections) Sweep() {
	m.mu.Lock()
	m.sweepLocked()
	m.mu.Unlock()
}

func (m *MemoryInjections) sweepLocked() {
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

// MemorySeen is an in-process SeenSet with TTL eviction.
type MemorySeen struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemorySeen returns a set whose keys are forgotten after ttl.
func NewMemorySeen(ttl time.Duration) *MemorySeen {
	return &MemorySeen{ttl: ttl, keys: map[string]time.Time{}, now: time.Now}
}

// MarkSeen records key and reports whether it was already present.
func (s *MemorySeen) MarkSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return true, nil
	}
	s.keys[key] = now.Add(s.ttl)
	return false, nil
}

// Sweep drops expired keys.
func (s *MemorySeen) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
		}
	}
}

// Sweeper is implemented by the in-memory stores.
type Sweeper interface{ Sweep() }

// RunJanitor calls Sweep on every sweeper each interval until ctx is done.
func RunJanitor(ctx context.Context, interval time.Duration, sweepers ...Sweeper) {
	if interval <= 0 || len(sweepers) == 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range sweepers {
				s.Sweep()
			}
		}
	}
}

// RedisInjections keeps pending replies in Redis so several proxy instances
// share them. Keys expire after ttl.
type RedisInjections struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisInjections stores entries under prefix.
func NewRedisInjections(rdb *redis.Client, prefix string, ttl time.Duration) *RedisInjections {
	return &RedisInjections{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Put stores reply with the store TTL.
func (r *RedisInjections) Put(ctx context.Context, prompt, reply string) error {
	return r.rdb.Set(ctx, r.prefix+NormalizePrompt(prompt), reply, r.ttl).Err()
}

// Take consumes the reply for prompt with GETDEL, so concurrent interceptors
// never inject the same reply twice.
func (r *RedisInjections) Take(ctx context.Context, prompt string) (string, bool, error) {
	norm := NormalizePrompt(prompt)
	v, err := r.rdb.GetDel(ctx, r.prefix+norm).Result()
	if err == nil {
		return v, true, nil
	}
	if err != redis.Nil {
		return "", false, err
	}

	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return "", false, err
	}
	k, ok := matchKey(keys, norm)
	if !ok {
		return "", false, nil
	}
	v, err = r.rdb.GetDel(ctx, r.prefix+k).Result()
	if err == redis.Nil {
		// taken by another instance in between
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// RedisSeen is a SeenSet backed by SETNX with expiry.
type RedisSeen struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSeen stores keys under prefix.
func NewRedisSeen(rdb *redis.Client, prefix string, ttl time.Duration) *RedisSeen {
	return &RedisSeen{rdb: rdb, prefix: prefix, ttl: ttl}
}

// MarkSeen sets key if absent and reports whether it already existed.
func (r *RedisSeen) MarkSeen(ctx context.Context, key string) (bool, error) {
	fresh, err := r.rdb.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
