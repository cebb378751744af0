// Package objstore is the durable key-value adapter for run artifacts.
//
// Paths are run-namespaced strings. Absence is a valid state reported as
// ErrNotFound; a document that exists but cannot be decoded is reported as a
// *DecodeError so callers never confuse "no artifact yet" with corruption.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no object exists at a path
var ErrNotFound = errors.New("object not found")

// ErrTransient marks failures worth retrying (busy database, interrupted I/O)
var ErrTransient = errors.New("transient store error")

// Store is the object store contract
type Store interface {
	// Get returns the bytes stored at path, or ErrNotFound
	Get(ctx context.Context, path string) ([]byte, error)

	// Put stores data at path, replacing any previous object
	Put(ctx context.Context, path string, data []byte) error

	// List returns all paths under prefix in lexicographic order
	List(ctx context.Context, prefix string) ([]string, error)
}

// DecodeError reports an object that exists but is malformed
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the object is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsMalformed reports whether err is a decode failure of an existing object
func IsMalformed(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// transient wraps err so that IsTransient reports true
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// GetJSON decodes the JSON document at path into v
func GetJSON(ctx context.Context, s Store, path string, v any) error {
	data, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// Load decodes the JSON document at path as T
func Load[T any](ctx context.Context, s Store, path string) (T, error) {
	var v T
	err := GetJSON(ctx, s, path, &v)
	return v, err
}

// PutJSON stores v as indented JSON at path
func PutJSON(ctx context.Context, s Store, path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Put(ctx, path, buf.Bytes())
}

// GetText returns the text stored at path
func GetText(ctx context.Context, s Store, path string) (string, error) {
	data, err := s.Get(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PutText stores text at path
func PutText(ctx context.Context, s Store, path, text string) error {
	return s.Put(ctx, path, []byte(text))
}

// Exists reports whether an object is present at path
func Exists(ctx context.Context, s Store, path string) (bool, error) {
	_, err := s.Get(ctx, path)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Join builds a path under a run prefix
func Join(prefix string, parts ...string) string {
	p := prefix
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + strings.Join(parts, "/")
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty object path")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("invalid object path %q", path)
	}
	return nil
}
