package settings

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

var (
	valueEncMode  cbor.EncMode
	valueDecMode  cbor.DecMode
	contextEncMod cbor.EncMode
)

func init() {
	var err error
	valueEncMode, err = cbor.EncOptions{
		Sort:    cbor.SortCoreDeterministic,
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("settings: cbor value encoder: %v", err))
	}
	valueDecMode, err = cbor.DecOptions{
		IntDec:       cbor.IntDecConvertNone,
		TimeTagToAny: cbor.TimeTagToTime,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("settings: cbor value decoder: %v", err))
	}
	contextEncMod, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("settings: cbor context encoder: %v", err))
	}
}

var storageEncoding = base64.RawStdEncoding

// CBORValueSerializer stores values as base64 encoded CBOR. Decoding into an
// interface yields int64 for integers that fit (uint64 above that), time.Time
// for times, []any for arrays, map[string]any for maps keyed only by strings
// and map[any]any for any other map.
type CBORValueSerializer struct{}

// NewValueSerializer returns the default value serializer.
func NewValueSerializer() CBORValueSerializer {
	return CBORValueSerializer{}
}

// Serialize encodes value for storage.
func (CBORValueSerializer) Serialize(value any) (string, error) {
	payload, err := valueEncMode.Marshal(value)
	if err != nil {
		return "", wrapSerializationError("serialize value", err)
	}
	return storageEncoding.EncodeToString(payload), nil
}

// Unserialize decodes serialized into its generic representation.
func (s CBORValueSerializer) Unserialize(serialized string) (any, error) {
	var out any
	if err := s.UnserializeInto(serialized, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnserializeInto decodes serialized into target, which must be a non-nil
// pointer.
func (CBORValueSerializer) UnserializeInto(serialized string, target any) error {
	payload, err := storageEncoding.DecodeString(serialized)
	if err != nil {
		return wrapSerializationError("unserialize value", err)
	}
	if err := valueDecMode.Unmarshal(payload, target); err != nil {
		return wrapSerializationError("unserialize value", err)
	}
	if generic, ok := target.(*any); ok && generic != nil {
		*generic = normalizeDecoded(*generic)
	}
	return nil
}

// normalizeDecoded narrows unsigned integers to int64 when they fit and turns
// string keyed maps into map[string]any.
func normalizeDecoded(value any) any {
	switch v := value.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeDecoded(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			name, ok := key.(string)
			if !ok {
				return normalizeKeyed(v)
			}
			out[name] = normalizeDecoded(item)
		}
		return out
	default:
		return value
	}
}

func normalizeKeyed(m map[any]any) map[any]any {
	out := make(map[any]any, len(m))
	for key, item := range m {
		out[normalizeDecoded(key)] = normalizeDecoded(item)
	}
	return out
}

// CBORContextSerializer encodes contexts with CBOR core deterministic
// encoding. Argument order never affects the output while argument value
// types do, so 1 and "1" produce different representations. A nil context
// encodes as CBOR null and an empty context as an empty map.
type CBORContextSerializer struct{}

// NewContextSerializer returns the default context serializer.
func NewContextSerializer() CBORContextSerializer {
	return CBORContextSerializer{}
}

// Serialize encodes c, distinguishing nil from an empty context.
func (CBORContextSerializer) Serialize(c *Context) (string, error) {
	var subject any
	if c != nil {
		arguments := c.Arguments()
		if arguments == nil {
			arguments = map[string]any{}
		}
		subject = arguments
	}
	payload, err := contextEncMod.Marshal(subject)
	if err != nil {
		return "", wrapSerializationError("serialize context", err)
	}
	return storageEncoding.EncodeToString(payload), nil
}
