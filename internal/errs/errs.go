// Package errs defines the error kinds surfaced by the store, the sync engine
// and the embedding providers. Every kind carries the ids it concerns so that
// callers can report them without parsing messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an item id is not in the store.
var ErrNotFound = errors.New("item not found")

// ValidationError reports a malformed input: a bad request field, a duplicate
// id, or a vector whose length does not match the store dimension.
type ValidationError struct {
	Field string
	IDs   []string
	Msg   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (ids: %s)", strings.Join(e.IDs, ", "))
	}
	return b.String()
}

// Validation returns a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// CapacityError reports inputs that exceed the provider's maximum input size.
// Indices refer to positions in the batch handed to the provider; IDs are
// filled in by callers that know them.
type CapacityError struct {
	IDs     []string
	Indices []int
	Counts  []int
	Limit   int
}

func (e *CapacityError) Error() string {
	if len(e.IDs) > 0 {
		return fmt.Sprintf("%d input(s) at or over the limit of %d tokens: %s",
			len(e.Indices), e.Limit, strings.Join(e.IDs, ", "))
	}
	return fmt.Sprintf("%d input(s) at or over the limit of %d tokens: indices %v",
		len(e.Indices), e.Limit, e.Indices)
}

// ProviderError wraps a failure of the embedding provider.
type ProviderError struct {
	Provider string
	IDs      []string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure to read or write the persisted store.
type PersistenceError struct {
	Op   string
	Path string
	IDs  []string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DecodeError reports content that could not be decoded as text. It is
// recoverable: the item is skipped.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IDs returns the ids attached to the first typed error in err's chain.
func IDs(err error) []string {
	var (
		ve *ValidationError
		ce *CapacityError
		pe *ProviderError
		se *PersistenceError
		de *DecodeError
	)
	switch {
	case errors.As(err, &ve):
		return ve.IDs
	case errors.As(err, &ce):
		return ce.IDs
	case errors.As(err, &pe):
		return pe.IDs
	case errors.As(err, &se):
		return se.IDs
	case errors.As(err, &de):
		return []string{de.ID}
	}
	return nil
}

// Kind names the error kind of err: "validation", "capacity", "provider",
// "persistence", "decode", "not_found" or "internal".
func Kind(err error) string {
	var (
		ve *ValidationError
		ce *CapacityError
		pe *ProviderError
		se *PersistenceError
		de *DecodeError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "capacity"
	case errors.As(err, &pe):
		return "provider"
	case errors.As(err, &se):
		return "persistence"
	case errors.As(err, &de):
		return "decode"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
