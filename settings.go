package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Settings orchestrates reads and writes of setting values against a
// Repository, layering context-aware key derivation, value serialization and
// the optional cache, encryption and event features on top.
//
// Each feature is active only when it is enabled AND its collaborator is
// attached. Settings is safe for concurrent use; scoping is passed per call
// through In so concurrent callers never observe each other's context.
type Settings struct {
	repository   Repository
	keyGenerator KeyGenerator
	serializer   ValueSerializer
	logger       OperationLogger

	mu                sync.RWMutex
	cache             Cache
	encrypter         Encrypter
	sink              EventSink
	cacheEnabled      bool
	encryptionEnabled bool
	eventsEnabled     bool
}

// Option configures a Settings instance.
type Option func(*Settings)

// New constructs Settings around repository.
func New(repository Repository, opts ...Option) *Settings {
	s := &Settings{repository: repository}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.keyGenerator == nil {
		s.keyGenerator = NewKeyGenerator(nil)
	}
	if s.serializer == nil {
		s.serializer = NewValueSerializer()
	}
	if s.logger == nil {
		s.logger = noopOperationLogger{}
	}
	return s
}

// WithKeyGenerator replaces the default BLAKE2b key generator.
func WithKeyGenerator(generator KeyGenerator) Option {
	return func(s *Settings) {
		s.keyGenerator = generator
	}
}

// WithValueSerializer replaces the default CBOR value serializer.
func WithValueSerializer(serializer ValueSerializer) Option {
	return func(s *Settings) {
		s.serializer = serializer
	}
}

// WithCache attaches a cache store. The feature still has to be enabled.
func WithCache(cache Cache) Option {
	return func(s *Settings) {
		s.cache = cache
	}
}

// WithEncrypter attaches an encrypter. The feature still has to be enabled.
func WithEncrypter(encrypter Encrypter) Option {
	return func(s *Settings) {
		s.encrypter = encrypter
	}
}

// WithEventSink attaches an event sink. The feature still has to be enabled.
func WithEventSink(sink EventSink) Option {
	return func(s *Settings) {
		s.sink = sink
	}
}

// WithCacheEnabled sets the initial cache flag.
func WithCacheEnabled(enabled bool) Option {
	return func(s *Settings) {
		s.cacheEnabled = enabled
	}
}

// WithEncryptionEnabled sets the initial encryption flag.
func WithEncryptionEnabled(enabled bool) Option {
	return func(s *Settings) {
		s.encryptionEnabled = enabled
	}
}

// WithEventsEnabled sets the initial events flag.
func WithEventsEnabled(enabled bool) Option {
	return func(s *Settings) {
		s.eventsEnabled = enabled
	}
}

// WithLogger attaches an operation logger. A nil logger disables logging.
func WithLogger(logger OperationLogger) Option {
	return func(s *Settings) {
		if logger == nil {
			s.logger = noopOperationLogger{}
			return
		}
		s.logger = logger
	}
}

// Repository returns the wrapped repository.
func (s *Settings) Repository() Repository {
	return s.repository
}

// KeyGenerator returns the storage key generator.
func (s *Settings) KeyGenerator() KeyGenerator {
	return s.keyGenerator
}

// ValueSerializer returns the value serializer.
func (s *Settings) ValueSerializer() ValueSerializer {
	return s.serializer
}

// EnableCache turns caching on. It is inert until a cache is attached.
func (s *Settings) EnableCache() {
	s.mu.Lock()
	s.cacheEnabled = true
	s.mu.Unlock()
}

// DisableCache turns caching off.
func (s *Settings) DisableCache() {
	s.mu.Lock()
	s.cacheEnabled = false
	s.mu.Unlock()
}

// SetCache attaches cache, or detaches it when nil. It never enables caching.
func (s *Settings) SetCache(cache Cache) {
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// Cache returns the attached cache.
func (s *Settings) Cache() Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// IsCacheEnabled reports whether caching is enabled and a cache is attached.
func (s *Settings) IsCacheEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheEnabled && s.cache != nil
}

// EnableEncryption turns encryption on. It is inert until an encrypter is attached.
func (s *Settings) EnableEncryption() {
	s.mu.Lock()
	s.encryptionEnabled = true
	s.mu.Unlock()
}

// DisableEncryption turns encryption off.
func (s *Settings) DisableEncryption() {
	s.mu.Lock()
	s.encryptionEnabled = false
	s.mu.Unlock()
}

// SetEncrypter attaches encrypter, or detaches it when nil.
func (s *Settings) SetEncrypter(encrypter Encrypter) {
	s.mu.Lock()
	s.encrypter = encrypter
	s.mu.Unlock()
}

// Encrypter returns the attached encrypter.
func (s *Settings) Encrypter() Encrypter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encrypter
}

// IsEncryptionEnabled reports whether encryption is enabled and an encrypter
// is attached.
func (s *Settings) IsEncryptionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encryptionEnabled && s.encrypter != nil
}

// EnableEvents turns events on. It is inert until a sink is attached.
func (s *Settings) EnableEvents() {
	s.mu.Lock()
	s.eventsEnabled = true
	s.mu.Unlock()
}

// DisableEvents turns events off.
func (s *Settings) DisableEvents() {
	s.mu.Lock()
	s.eventsEnabled = false
	s.mu.Unlock()
}

// SetEventSink attaches sink, or detaches it when nil.
func (s *Settings) SetEventSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// EventSink returns the attached event sink.
func (s *Settings) EventSink() EventSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

// IsEventsEnabled reports whether events are enabled and a sink is attached.
func (s *Settings) IsEventsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsEnabled && s.sink != nil
}

// In returns a view of s scoped to c for the calls made through it. A nil
// context addresses unscoped values.
func (s *Settings) In(c *Context) Scoped {
	return Scoped{settings: s, context: c}
}

// Has reports whether an unscoped value exists for key.
func (s *Settings) Has(ctx context.Context, key string) (bool, error) {
	return s.In(nil).Has(ctx, key)
}

// Get returns the unscoped value for key, or def when none is stored.
func (s *Settings) Get(ctx context.Context, key string, def any) (any, error) {
	return s.In(nil).Get(ctx, key, def)
}

// GetInto decodes the unscoped value for key into target.
func (s *Settings) GetInto(ctx context.Context, key string, target any) (bool, error) {
	return s.In(nil).GetInto(ctx, key, target)
}

// Set stores an unscoped value for key.
func (s *Settings) Set(ctx context.Context, key string, value any) error {
	return s.In(nil).Set(ctx, key, value)
}

// SetMany stores several unscoped values.
func (s *Settings) SetMany(ctx context.Context, values map[string]any) error {
	return s.In(nil).SetMany(ctx, values)
}

// Forget removes the unscoped value for key.
func (s *Settings) Forget(ctx context.Context, key string) error {
	return s.In(nil).Forget(ctx, key)
}

// Scoped binds a Settings instance to a single context. It is a small value
// type; create one per call site with Settings.In.
type Scoped struct {
	settings *Settings
	context  *Context
}

// Context returns the context bound to the view.
func (sc Scoped) Context() *Context {
	return sc.context
}

// Has reports whether a value exists for key under the bound context.
func (sc Scoped) Has(ctx context.Context, key string) (bool, error) {
	ctx = orBackground(ctx)
	s := sc.settings
	f := s.active()
	start := time.Now()

	s.fire(ctx, f, VerbChecking, key, sc.context, key)

	storageKey, err := s.storageKey(key, sc.context)
	var status bool
	if err == nil {
		status, err = s.repository.Has(ctx, storageKey)
	}
	s.logOperation("has", key, storageKey, sc.context, f, start, err)
	if err != nil {
		return false, err
	}

	s.fire(ctx, f, VerbHas, key, sc.context, key, status)
	return status, nil
}

// Get returns the value stored for key under the bound context. When no value
// is stored def is returned unchanged; def is never decrypted or unserialized.
func (sc Scoped) Get(ctx context.Context, key string, def any) (any, error) {
	ctx = orBackground(ctx)
	s := sc.settings
	f := s.active()
	start := time.Now()

	s.fire(ctx, f, VerbGetting, key, sc.context, key, def)

	storageKey, raw, found, err := s.read(ctx, f, key, sc.context)
	value := def
	if err == nil && found {
		value, err = s.decode(f, raw)
	}
	s.logOperation("get", key, storageKey, sc.context, f, start, err)
	if err != nil {
		return nil, err
	}

	s.fire(ctx, f, VerbGet, key, sc.context, key, value, def)
	return value, nil
}

// GetInto decodes the value stored for key into target, reporting whether a
// value was found. target is left untouched when nothing is stored. The value
// serializer must implement ValueDecoder.
func (sc Scoped) GetInto(ctx context.Context, key string, target any) (bool, error) {
	ctx = orBackground(ctx)
	s := sc.settings
	decoder, ok := s.serializer.(ValueDecoder)
	if !ok {
		return false, wrapSerializationError("unserialize value", fmt.Errorf("%T cannot decode into a target", s.serializer))
	}
	f := s.active()
	start := time.Now()

	s.fire(ctx, f, VerbGetting, key, sc.context, key, nil)

	storageKey, raw, found, err := s.read(ctx, f, key, sc.context)
	if err == nil && found {
		var plain string
		if plain, err = s.decrypt(f, raw); err == nil {
			err = decoder.UnserializeInto(plain, target)
		}
	}
	s.logOperation("get", key, storageKey, sc.context, f, start, err)
	if err != nil {
		return false, err
	}

	s.fire(ctx, f, VerbGet, key, sc.context, key, target, nil)
	return found, nil
}

// Set stores value for key under the bound context. The cache entry for the
// derived key is invalidated, never populated.
func (sc Scoped) Set(ctx context.Context, key string, value any) error {
	ctx = orBackground(ctx)
	s := sc.settings
	f := s.active()
	start := time.Now()

	s.fire(ctx, f, VerbSetting, key, sc.context, key, value)

	storageKey, err := s.storageKey(key, sc.context)
	if err == nil {
		err = s.write(ctx, f, storageKey, value)
	}
	s.logOperation("set", key, storageKey, sc.context, f, start, err)
	if err != nil {
		return err
	}

	s.fire(ctx, f, VerbSet, key, sc.context, key, value)
	return nil
}

// SetMany stores every entry of values under the bound context, in key order.
// It stops at the first failure.
func (sc Scoped) SetMany(ctx context.Context, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := sc.Set(ctx, key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

// Forget removes the value stored for key under the bound context.
func (sc Scoped) Forget(ctx context.Context, key string) error {
	ctx = orBackground(ctx)
	s := sc.settings
	f := s.active()
	start := time.Now()

	s.fire(ctx, f, VerbForgetting, key, sc.context, key)

	storageKey, err := s.storageKey(key, sc.context)
	if err == nil {
		err = s.repository.Forget(ctx, storageKey)
	}
	if err == nil && f.cache != nil {
		err = f.cache.Forget(ctx, storageKey)
	}
	s.logOperation("forget", key, storageKey, sc.context, f, start, err)
	if err != nil {
		return err
	}

	s.fire(ctx, f, VerbForget, key, sc.context, key)
	return nil
}

// features is a snapshot of the collaborators active for one call.
type features struct {
	cache     Cache
	encrypter Encrypter
	sink      EventSink
}

func (s *Settings) active() features {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f features
	if s.cacheEnabled {
		f.cache = s.cache
	}
	if s.encryptionEnabled {
		f.encrypter = s.encrypter
	}
	if s.eventsEnabled {
		f.sink = s.sink
	}
	return f
}

func (s *Settings) storageKey(key string, c *Context) (string, error) {
	return s.keyGenerator.Generate(key, c)
}

func (s *Settings) read(ctx context.Context, f features, key string, c *Context) (string, string, bool, error) {
	storageKey, err := s.storageKey(key, c)
	if err != nil {
		return "", "", false, err
	}
	if f.cache == nil {
		raw, found, err := s.repository.Get(ctx, storageKey)
		return storageKey, raw, found, err
	}
	raw, found, err := f.cache.RememberForever(ctx, storageKey, func(ctx context.Context) (string, bool, error) {
		return s.repository.Get(ctx, storageKey)
	})
	return storageKey, raw, found, err
}

func (s *Settings) write(ctx context.Context, f features, storageKey string, value any) error {
	serialized, err := s.serializer.Serialize(value)
	if err != nil {
		return err
	}
	if f.encrypter != nil {
		if serialized, err = f.encrypter.Encrypt(serialized); err != nil {
			return err
		}
	}
	if err := s.repository.Set(ctx, storageKey, serialized); err != nil {
		return err
	}
	if f.cache != nil {
		return f.cache.Forget(ctx, storageKey)
	}
	return nil
}

func (s *Settings) decrypt(f features, raw string) (string, error) {
	if f.encrypter == nil {
		return raw, nil
	}
	return f.encrypter.Decrypt(raw)
}

func (s *Settings) decode(f features, raw string) (any, error) {
	plain, err := s.decrypt(f, raw)
	if err != nil {
		return nil, err
	}
	return s.serializer.Unserialize(plain)
}

// fire emits "settings.<verb>: <key>" with the context appended as the last
// payload element. An unscoped call appends an untyped nil.
func (s *Settings) fire(ctx context.Context, f features, verb, key string, c *Context, payload ...any) {
	if f.sink == nil {
		return
	}
	if c == nil {
		payload = append(payload, nil)
	} else {
		payload = append(payload, c)
	}
	f.sink.Fire(ctx, EventName(verb, key), payload)
}

func (s *Settings) logOperation(op, key, storageKey string, c *Context, f features, start time.Time, err error) {
	s.logger.LogOperation(OperationLogEvent{
		Op:         op,
		Key:        key,
		StorageKey: storageKey,
		Scoped:     c != nil,
		Cached:     f.cache != nil,
		Encrypted:  f.encrypter != nil,
		Duration:   time.Since(start),
		Err:        err,
	})
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
