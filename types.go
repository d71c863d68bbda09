package settings

import "context"

// Repository is the durable key/value backend. Keys reaching a Repository are
// storage keys produced by a KeyGenerator.
type Repository interface {
	Has(ctx context.Context, key string) (bool, error)
	// Get reports absence through found=false; the caller owns defaults.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set has upsert semantics from the caller's point of view.
	Set(ctx context.Context, key, value string) error
	// Forget removes key. Forgetting a missing key is not an error.
	Forget(ctx context.Context, key string) error
}

// Producer computes a value on cache miss.
type Producer func(ctx context.Context) (value string, found bool, err error)

// Cache is a read-through cache keyed by storage key. Entries never expire;
// they live until forgotten.
type Cache interface {
	RememberForever(ctx context.Context, key string, producer Producer) (value string, found bool, err error)
	Forget(ctx context.Context, key string) error
}

// Encrypter encrypts serialized values before they reach the Repository.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventSink receives lifecycle events. Delivery is fire-and-forget.
type EventSink interface {
	Fire(ctx context.Context, name string, payload []any)
}

// EventSinkFunc allows plain functions to satisfy EventSink.
type EventSinkFunc func(ctx context.Context, name string, payload []any)

// Fire dispatches to the underlying function.
func (fn EventSinkFunc) Fire(ctx context.Context, name string, payload []any) {
	if fn != nil {
		fn(ctx, name, payload)
	}
}

// KeyGenerator derives an opaque storage key from a logical key and context.
type KeyGenerator interface {
	Generate(key string, c *Context) (string, error)
}

// ContextSerializer converts a context (or its absence) into a stable string.
type ContextSerializer interface {
	Serialize(c *Context) (string, error)
}

// ValueSerializer converts setting values to and from their stored form.
type ValueSerializer interface {
	Serialize(value any) (string, error)
	Unserialize(serialized string) (any, error)
}

// ValueDecoder is implemented by serializers able to decode into a typed
// target instead of the generic representation.
type ValueDecoder interface {
	UnserializeInto(serialized string, target any) error
}
