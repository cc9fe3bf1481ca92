package kvdb

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
)

// KeyError names the bucket and key an operation failed on. It wraps ErrNotFound,
// ErrInvalidKey or the underlying store error.
type KeyError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("kvdb %s %s/%q: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}
