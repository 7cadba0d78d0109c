package store

import "fmt"

// DecodeError means stored bytes for Key could not be decoded. It is logged
// and the key falls back to its defaults.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// WriteError means a background save of Key failed. The in-memory value
// stays authoritative until the next successful save.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
