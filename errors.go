package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrArgumentNotFound indicates a Context lookup for a missing argument.
	ErrArgumentNotFound = errors.New("settings: argument not found")
	// ErrConfiguration indicates an undefined repository or unknown driver.
	ErrConfiguration = errors.New("settings: configuration error")
	// ErrSerialization indicates a value or context failed to (un)serialize.
	ErrSerialization = errors.New("settings: serialization error")
	// ErrEncryption indicates ciphertext could not be decrypted.
	ErrEncryption = errors.New("settings: encryption error")
)

// SerializationError captures the serializer stage alongside the originating
// error. It matches ErrSerialization through errors.Is.
type SerializationError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *SerializationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("settings: %s: %v", e.Op, e.Err)
}

// Unwrap returns the serializer error.
func (e *SerializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches ErrSerialization.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

func wrapSerializationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var serErr *SerializationError
	if errors.As(err, &serErr) {
		return err
	}
	return &SerializationError{Op: op, Err: err}
}
