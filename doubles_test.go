package settings

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// memoryRepository is a minimal Repository double recording every call.
type memoryRepository struct {
	mu      sync.Mutex
	records map[string]string
	calls   []string
	err     error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{records: map[string]string{}}
}

func (r *memoryRepository) record(call string) {
	r.calls = append(r.calls, call)
}

func (r *memoryRepository) Has(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("has " + key)
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.records[key]
	return ok, nil
}

func (r *memoryRepository) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("get " + key)
	if r.err != nil {
		return "", false, r.err
	}
	value, ok := r.records[key]
	return value, ok, nil
}

func (r *memoryRepository) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("set " + key)
	if r.err != nil {
		return r.err
	}
	r.records[key] = value
	return nil
}

func (r *memoryRepository) Forget(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("forget " + key)
	if r.err != nil {
		return r.err
	}
	delete(r.records, key)
	return nil
}

func (r *memoryRepository) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// mapCache is a Cache double that stores found values forever.
type mapCache struct {
	entries  map[string]string
	remember int
	forgets  []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]string{}}
}

func (c *mapCache) RememberForever(ctx context.Context, key string, producer Producer) (string, bool, error) {
	c.remember++
	if value, ok := c.entries[key]; ok {
		return value, true, nil
	}
	value, found, err := producer(ctx)
	if err != nil || !found {
		return value, found, err
	}
	c.entries[key] = value
	return value, true, nil
}

func (c *mapCache) Forget(_ context.Context, key string) error {
	c.forgets = append(c.forgets, key)
	delete(c.entries, key)
	return nil
}

// reverseEncrypter is a reversible Encrypter double.
type reverseEncrypter struct {
	encrypts int
	decrypts int
}

var errTampered = errors.New("tampered")

func (e *reverseEncrypter) Encrypt(plaintext string) (string, error) {
	e.encrypts++
	return "enc:" + reverse(plaintext), nil
}

func (e *reverseEncrypter) Decrypt(ciphertext string) (string, error) {
	e.decrypts++
	body, ok := strings.CutPrefix(ciphertext, "enc:")
	if !ok {
		return "", errTampered
	}
	return reverse(body), nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

type firedEvent struct {
	name    string
	payload []any
}

// captureSink records fired events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []firedEvent
}

func (s *captureSink) Fire(_ context.Context, name string, payload []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, firedEvent{name: name, payload: append([]any(nil), payload...)})
}

// fixedKeyGenerator maps (key, context) to predictable storage keys.
type fixedKeyGenerator struct{}

func (fixedKeyGenerator) Generate(key string, c *Context) (string, error) {
	if c == nil {
		return key + "_g", nil
	}
	return key + "_" + c.String(), nil
}
