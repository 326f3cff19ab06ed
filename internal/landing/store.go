// Package landing reads and writes batch files in the landing area: a local
// directory during development, or a Cloud Storage bucket.
package landing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned when the object, or the requested generation of it, is gone.
	ErrObjectNotFound = errors.New("landing object not found")
	ErrInvalidName    = errors.New("invalid landing object name")
)

// ObjectRef identifies one generation of a landed object.
type ObjectRef struct {
	Bucket     string    `json:"bucket"`
	Name       string    `json:"name"`
	Generation string    `json:"generation"`
	Size       int64     `json:"size"`
	Updated    time.Time `json:"updated"`
}

type Store interface {
	// Bucket returns the bucket name reported in object references; empty for local storage.
	Bucket() string
	// Open reads ref. A non-empty ref.Generation must still be the object's generation.
	Open(ctx context.Context, ref ObjectRef) (io.ReadCloser, error)
	// Put writes name atomically and returns the new generation.
	Put(ctx context.Context, name string, r io.Reader) (ObjectRef, error)
	Stat(ctx context.Context, name string) (ObjectRef, error)
	List(ctx context.Context, prefix string) ([]ObjectRef, error)
	Close() error
}

// CleanName normalizes an object name to slash form and rejects names that
// escape the landing root.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	cleaned := path.Clean("/" + name)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

// Matcher decides which landed objects are ingestion batches.
type Matcher struct {
	Prefix   string
	Patterns []string
}

// Match reports whether name lies under the prefix and its base name matches a pattern.
func (m Matcher) Match(name string) bool {
	if !strings.HasPrefix(name, m.Prefix) {
		return false
	}
	base := path.Base(name)
	for _, pattern := range m.Patterns {
		if ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(base)); err == nil && ok {
			return true
		}
	}
	return false
}
