package settings

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestHasReturnsRepositoryValue(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	s := New(repo, WithKeyGenerator(fixedKeyGenerator{}))

	ok, err := s.Has(ctx, "key")
	if err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	repo.records["key_g"] = "value"
	ok, err = s.Has(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("expected present key, got ok=%v err=%v", ok, err)
	}
	if repo.count("has key_g") != 2 {
		t.Fatalf("expected repository Has with generated key, calls=%v", repo.calls)
	}
}

func TestGetReturnsStoredValueAndDefault(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())

	got, err := s.Get(ctx, "site.title", "fallback")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "fallback" {
		t.Fatalf("expected default, got %#v", got)
	}

	if err := s.Set(ctx, "site.title", "Hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.Get(ctx, "site.title", "fallback")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected stored value, got %#v", got)
	}
}

func TestGetReturnsStoredNilInsteadOfDefault(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())

	if err := s.Set(ctx, "key", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "key", "default")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected stored nil to win over default, got %#v", got)
	}
}

func TestGetDefaultIsNeverDecrypted(t *testing.T) {
	ctx := context.Background()
	enc := &reverseEncrypter{}
	s := New(newMemoryRepository(), WithEncrypter(enc), WithEncryptionEnabled(true))

	got, err := s.Get(ctx, "missing", "plain-default")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "plain-default" {
		t.Fatalf("expected default unchanged, got %#v", got)
	}
	if enc.decrypts != 0 {
		t.Fatalf("expected no decrypt for default, got %d", enc.decrypts)
	}
}

func TestGetUsesReadThroughCache(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := newMapCache()
	s := New(repo, WithKeyGenerator(fixedKeyGenerator{}), WithCache(cache), WithCacheEnabled(true))

	if err := s.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expected set not to populate cache, got %v", cache.entries)
	}

	for i := 0; i < 3; i++ {
		got, err := s.Get(ctx, "key", nil)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "value" {
			t.Fatalf("expected cached value, got %#v", got)
		}
	}
	if n := repo.count("get "); n != 1 {
		t.Fatalf("expected one repository read, got %d", n)
	}
	if cache.remember != 3 {
		t.Fatalf("expected every get to consult the cache, got %d", cache.remember)
	}
}

func TestGetSkipsCacheWhenDisabled(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := newMapCache()
	s := New(repo, WithCache(cache))

	_ = s.Set(ctx, "key", "value")
	_, _ = s.Get(ctx, "key", nil)
	_, _ = s.Get(ctx, "key", nil)

	if cache.remember != 0 || len(cache.forgets) != 0 {
		t.Fatalf("expected cache untouched, remember=%d forgets=%v", cache.remember, cache.forgets)
	}
	if n := repo.count("get "); n != 2 {
		t.Fatalf("expected repository reads, got %d", n)
	}
}

func TestSetInvalidatesCacheEntry(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := newMapCache()
	s := New(repo, WithKeyGenerator(fixedKeyGenerator{}), WithCache(cache), WithCacheEnabled(true))

	_ = s.Set(ctx, "key", "v1")
	if got, _ := s.Get(ctx, "key", nil); got != "v1" {
		t.Fatalf("expected v1, got %#v", got)
	}
	_ = s.Set(ctx, "key", "v2")
	if _, ok := cache.entries["key_g"]; ok {
		t.Fatalf("expected set to evict cache entry")
	}
	if got, _ := s.Get(ctx, "key", nil); got != "v2" {
		t.Fatalf("expected v2 after invalidation, got %#v", got)
	}
	if !reflect.DeepEqual(cache.forgets, []string{"key_g", "key_g"}) {
		t.Fatalf("unexpected cache forgets: %v", cache.forgets)
	}
}

func TestEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	enc := &reverseEncrypter{}
	s := New(repo, WithKeyGenerator(fixedKeyGenerator{}), WithEncrypter(enc))
	s.EnableEncryption()

	if err := s.Set(ctx, "key", "secret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.HasPrefix(repo.records["key_g"], "enc:") {
		t.Fatalf("expected encrypted stored form, got %q", repo.records["key_g"])
	}
	got, err := s.Get(ctx, "key", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "secret" {
		t.Fatalf("expected decrypted value, got %#v", got)
	}
	if enc.encrypts != 1 || enc.decrypts != 1 {
		t.Fatalf("unexpected encrypter usage: %+v", enc)
	}

	s.DisableEncryption()
	if _, err := s.Get(ctx, "key", nil); !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ciphertext to fail unserialize without decryption, got %v", err)
	}
}

func TestGetSurfacesFailuresInsteadOfDefault(t *testing.T) {
	ctx := context.Background()
	backendErr := errors.New("backend down")

	repo := newMemoryRepository()
	repo.err = backendErr
	s := New(repo)
	got, err := s.Get(ctx, "key", "default")
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error unchanged, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil value on failure, got %#v", got)
	}

	repo = newMemoryRepository()
	repo.records["key_g"] = "not-ciphertext"
	s = New(repo, WithKeyGenerator(fixedKeyGenerator{}), WithEncrypter(&reverseEncrypter{}), WithEncryptionEnabled(true))
	if _, err := s.Get(ctx, "key", "default"); !errors.Is(err, errTampered) {
		t.Fatalf("expected decrypt error, got %v", err)
	}
}

func TestForgetRemovesValueAndCacheEntry(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := newMapCache()
	s := New(repo, WithKeyGenerator(fixedKeyGenerator{}), WithCache(cache), WithCacheEnabled(true))

	_ = s.Set(ctx, "key", "value")
	_, _ = s.Get(ctx, "key", nil)
	if err := s.Forget(ctx, "key"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := repo.records["key_g"]; ok {
		t.Fatalf("expected repository value removed")
	}
	if _, ok := cache.entries["key_g"]; ok {
		t.Fatalf("expected cache entry removed")
	}
	if got, _ := s.Get(ctx, "key", "gone"); got != "gone" {
		t.Fatalf("expected default after forget, got %#v", got)
	}
}

func TestContextsIsolateValues(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())

	c1 := NewContext(map[string]any{"tenant": "acme"})
	c2 := NewContext(map[string]any{"tenant": "globex"})

	if err := s.In(c1).Set(ctx, "key", "v1"); err != nil {
		t.Fatalf("set c1: %v", err)
	}
	if err := s.In(c2).Set(ctx, "key", "v2"); err != nil {
		t.Fatalf("set c2: %v", err)
	}

	if got, _ := s.Get(ctx, "key", "default"); got != "default" {
		t.Fatalf("expected unscoped default, got %#v", got)
	}
	if got, _ := s.In(c1).Get(ctx, "key", nil); got != "v1" {
		t.Fatalf("expected v1, got %#v", got)
	}
	if got, _ := s.In(c2).Get(ctx, "key", nil); got != "v2" {
		t.Fatalf("expected v2, got %#v", got)
	}
}

func TestContentEqualContextsShareValues(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())

	if err := s.In(NewContext(nil)).Set(ctx, "key", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := s.In(NewContext(map[string]any{})).Get(ctx, "key", nil); got != "v1" {
		t.Fatalf("expected equal empty context to read v1, got %#v", got)
	}
	if got, _ := s.Get(ctx, "key", "default"); got != "default" {
		t.Fatalf("expected no-context read to miss, got %#v", got)
	}

	a := NewContext(map[string]any{"locale": "en", "tenant": 7})
	b := NewContext(nil)
	b.Set("tenant", 7)
	b.Set("locale", "en")
	_ = s.In(a).Set(ctx, "greeting", "hello")
	if got, _ := s.In(b).Get(ctx, "greeting", nil); got != "hello" {
		t.Fatalf("expected argument order not to matter, got %#v", got)
	}
}

func TestOperationsFireEventPairs(t *testing.T) {
	ctx := context.Background()
	scope := NewContext(map[string]any{"tenant": "acme"})

	cases := []struct {
		name string
		run  func(Scoped) error
		pre  firedEvent
		post firedEvent
	}{
		{
			name: "has",
			run: func(sc Scoped) error {
				_, err := sc.Has(ctx, "key")
				return err
			},
			pre:  firedEvent{name: "settings.checking: key", payload: []any{"key", scope}},
			post: firedEvent{name: "settings.has: key", payload: []any{"key", true, scope}},
		},
		{
			name: "get",
			run: func(sc Scoped) error {
				_, err := sc.Get(ctx, "key", "default")
				return err
			},
			pre:  firedEvent{name: "settings.getting: key", payload: []any{"key", "default", scope}},
			post: firedEvent{name: "settings.get: key", payload: []any{"key", "value", "default", scope}},
		},
		{
			name: "set",
			run: func(sc Scoped) error {
				return sc.Set(ctx, "key", "value")
			},
			pre:  firedEvent{name: "settings.setting: key", payload: []any{"key", "value", scope}},
			post: firedEvent{name: "settings.set: key", payload: []any{"key", "value", scope}},
		},
		{
			name: "forget",
			run: func(sc Scoped) error {
				return sc.Forget(ctx, "key")
			},
			pre:  firedEvent{name: "settings.forgetting: key", payload: []any{"key", scope}},
			post: firedEvent{name: "settings.forget: key", payload: []any{"key", scope}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(newMemoryRepository())
			if err := s.In(scope).Set(ctx, "key", "value"); err != nil {
				t.Fatalf("seed: %v", err)
			}

			sink := &captureSink{}
			s.SetEventSink(sink)
			s.EnableEvents()
			if err := tc.run(s.In(scope)); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(sink.events) != 2 {
				t.Fatalf("expected 2 events, got %d: %+v", len(sink.events), sink.events)
			}
			if !reflect.DeepEqual(sink.events[0], tc.pre) {
				t.Fatalf("unexpected pre event: %+v", sink.events[0])
			}
			if !reflect.DeepEqual(sink.events[1], tc.post) {
				t.Fatalf("unexpected post event: %+v", sink.events[1])
			}
			if sink.events[1].payload[len(sink.events[1].payload)-1] != scope {
				t.Fatalf("expected the same context object as last payload element")
			}

			s.DisableEvents()
			if err := tc.run(s.In(scope)); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(sink.events) != 2 {
				t.Fatalf("expected no events when disabled, got %d", len(sink.events))
			}
		})
	}
}

func TestUnscopedEventsCarryNilContext(t *testing.T) {
	sink := &captureSink{}
	s := New(newMemoryRepository(), WithEventSink(sink), WithEventsEnabled(true))

	if err := s.Forget(context.Background(), "site.title"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	want := []firedEvent{
		{name: "settings.forgetting: site.title", payload: []any{"site.title", nil}},
		{name: "settings.forget: site.title", payload: []any{"site.title", nil}},
	}
	if !reflect.DeepEqual(sink.events, want) {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}

func TestFailedOperationSkipsPostEvent(t *testing.T) {
	repo := newMemoryRepository()
	repo.err = errors.New("boom")
	sink := &captureSink{}
	s := New(repo, WithEventSink(sink), WithEventsEnabled(true))

	if err := s.Set(context.Background(), "key", "value"); err == nil {
		t.Fatalf("expected error")
	}
	if len(sink.events) != 1 || sink.events[0].name != "settings.setting: key" {
		t.Fatalf("expected only the pre event, got %+v", sink.events)
	}
}

func TestFeatureToggles(t *testing.T) {
	cases := []struct {
		name    string
		attach  func(*Settings)
		enable  func(*Settings)
		disable func(*Settings)
		enabled func(*Settings) bool
	}{
		{
			name:    "cache",
			attach:  func(s *Settings) { s.SetCache(newMapCache()) },
			enable:  (*Settings).EnableCache,
			disable: (*Settings).DisableCache,
			enabled: (*Settings).IsCacheEnabled,
		},
		{
			name:    "encryption",
			attach:  func(s *Settings) { s.SetEncrypter(&reverseEncrypter{}) },
			enable:  (*Settings).EnableEncryption,
			disable: (*Settings).DisableEncryption,
			enabled: (*Settings).IsEncryptionEnabled,
		},
		{
			name:    "events",
			attach:  func(s *Settings) { s.SetEventSink(&captureSink{}) },
			enable:  (*Settings).EnableEvents,
			disable: (*Settings).DisableEvents,
			enabled: (*Settings).IsEventsEnabled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(newMemoryRepository())
			if tc.enabled(s) {
				t.Fatalf("expected disabled by default")
			}
			tc.enable(s)
			if tc.enabled(s) {
				t.Fatalf("expected enabling without collaborator to be inert")
			}
			tc.disable(s)
			tc.attach(s)
			if tc.enabled(s) {
				t.Fatalf("expected attaching not to enable the feature")
			}
			tc.enable(s)
			if !tc.enabled(s) {
				t.Fatalf("expected feature enabled")
			}
			tc.disable(s)
			if tc.enabled(s) {
				t.Fatalf("expected feature disabled")
			}
		})
	}
}

func TestDetachedCollaboratorsHaveNoSideEffects(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	cache := newMapCache()
	encrypter := &reverseEncrypter{}
	sink := &captureSink{}
	s := New(repo,
		WithKeyGenerator(fixedKeyGenerator{}),
		WithCache(cache), WithCacheEnabled(true),
		WithEncrypter(encrypter), WithEncryptionEnabled(true),
		WithEventSink(sink), WithEventsEnabled(true),
	)

	s.SetCache(nil)
	s.SetEncrypter(nil)
	s.SetEventSink(nil)
	if s.IsCacheEnabled() || s.IsEncryptionEnabled() || s.IsEventsEnabled() {
		t.Fatalf("expected detached collaborators to report disabled")
	}

	if err := s.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := s.Get(ctx, "key", nil); err != nil || got != "value" {
		t.Fatalf("unexpected get %v %v", got, err)
	}
	if err := s.Forget(ctx, "key"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	if len(sink.events) != 0 {
		t.Fatalf("expected no events after detaching the sink, got %+v", sink.events)
	}
	if cache.remember != 0 || len(cache.forgets) != 0 || len(cache.entries) != 0 {
		t.Fatalf("expected no cache use after detaching the cache, got %+v", cache)
	}
	if encrypter.encrypts != 0 || encrypter.decrypts != 0 {
		t.Fatalf("expected no encryption after detaching the encrypter, got %+v", encrypter)
	}
	if repo.count("get ") != 1 {
		t.Fatalf("expected reads to go straight to the repository, got %v", repo.calls)
	}
}

func TestGetIntoDecodesTypedValues(t *testing.T) {
	type smtp struct {
		Host string
		Port int
		TLS  bool
	}
	ctx := context.Background()
	s := New(newMemoryRepository())
	scope := NewContext(map[string]any{"tenant": "acme"})

	var missing smtp
	found, err := s.In(scope).GetInto(ctx, "mail.smtp", &missing)
	if err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	want := smtp{Host: "mail.example.com", Port: 587, TLS: true}
	if err := s.In(scope).Set(ctx, "mail.smtp", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got smtp
	found, err = s.In(scope).GetInto(ctx, "mail.smtp", &got)
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSetManyStoresEveryValue(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	s := New(newMemoryRepository(), WithEventSink(sink), WithEventsEnabled(true))
	scope := NewContext(map[string]any{"locale": "lt"})

	err := s.In(scope).SetMany(ctx, map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	if got, _ := s.In(scope).Get(ctx, "a", nil); got != int64(1) {
		t.Fatalf("expected a=1, got %#v", got)
	}
	if got, _ := s.In(scope).Get(ctx, "b", nil); got != int64(2) {
		t.Fatalf("expected b=2, got %#v", got)
	}
	if sink.events[0].name != "settings.setting: a" || sink.events[2].name != "settings.setting: b" {
		t.Fatalf("expected key order, got %+v", sink.events)
	}
}

func TestOperationLoggerReceivesEvents(t *testing.T) {
	var events []OperationLogEvent
	logger := OperationLoggerFunc(func(event OperationLogEvent) {
		events = append(events, event)
	})
	repo := newMemoryRepository()
	s := New(repo, WithLogger(logger), WithCache(newMapCache()), WithCacheEnabled(true))
	ctx := context.Background()

	_ = s.In(NewContext(nil)).Set(ctx, "key", "value")
	repo.err = errors.New("boom")
	_, _ = s.Get(ctx, "other", nil)

	if len(events) != 2 {
		t.Fatalf("expected 2 log events, got %d", len(events))
	}
	if events[0].Op != "set" || !events[0].Scoped || !events[0].Cached || events[0].Err != nil {
		t.Fatalf("unexpected set log event: %+v", events[0])
	}
	if events[1].Op != "get" || events[1].Scoped || events[1].Err == nil || events[1].StorageKey == "" {
		t.Fatalf("unexpected get log event: %+v", events[1])
	}
}

func TestConcurrentScopedCallsDoNotShareContext(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			scope := NewContext(map[string]any{"worker": i})
			if err := s.In(scope).Set(ctx, "key", i); err != nil {
				done <- err
				return
			}
			got, err := s.In(scope).Get(ctx, "key", nil)
			if err != nil {
				done <- err
				return
			}
			if got != int64(i) {
				done <- errors.New("context leaked between goroutines")
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
