package settings

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// storageKeySize is the digest size in bytes (128 bits).
const storageKeySize = 16

// HashKeyGenerator derives storage keys as the hex encoded BLAKE2b-128 digest
// of the logical key followed by the serialized context. The key is length
// prefixed so no key/context split can collide with another.
type HashKeyGenerator struct {
	serializer ContextSerializer
}

// NewKeyGenerator composes a HashKeyGenerator over serializer, falling back
// to the CBOR context serializer when nil.
func NewKeyGenerator(serializer ContextSerializer) *HashKeyGenerator {
	if serializer == nil {
		serializer = NewContextSerializer()
	}
	return &HashKeyGenerator{serializer: serializer}
}

// Generate returns hex(BLAKE2b-128(uvarint(len key) || key || context)).
func (g *HashKeyGenerator) Generate(key string, c *Context) (string, error) {
	serialized, err := g.serializer.Serialize(c)
	if err != nil {
		return "", err
	}
	hash, err := blake2b.New(storageKeySize, nil)
	if err != nil {
		return "", fmt.Errorf("settings: key hash: %w", err)
	}
	var prefix [binary.MaxVarintLen64]byte
	hash.Write(prefix[:binary.PutUvarint(prefix[:], uint64(len(key)))])
	hash.Write([]byte(key))
	hash.Write([]byte(serialized))
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ContextSerializer returns the serializer feeding the hash.
func (g *HashKeyGenerator) ContextSerializer() ContextSerializer {
	return g.serializer
}
