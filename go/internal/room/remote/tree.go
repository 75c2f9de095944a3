package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotObject is returned when updating fields of a value that is not a JSON object
	ErrNotObject = errors.New("value is not a JSON object")
)

// Tree is a hierarchical key-value store addressed by slash-separated paths.
type Tree interface {
	// Set replaces the value at path.
	Set(ctx context.Context, path string, value []byte) error
	// Update merges top-level fields into the JSON object at path.
	Update(ctx context.Context, path string, fields map[string]json.RawMessage) error
	// Once reads the current value at path.
	Once(ctx context.Context, path string) (Snapshot, error)
	// On calls fn for every later write at path or below it.
	On(ctx context.Context, path string, fn func(Snapshot)) (Listener, error)
}

// Listener is an active On registration.
type Listener interface {
	Off()
}

// Snapshot is the value at a path at one point in time.
type Snapshot struct {
	path  string
	value []byte
}

func NewSnapshot(path string, value []byte) Snapshot {
	return Snapshot{path: path, value: value}
}

func (s Snapshot) Path() string { return s.path }

// Key returns the last path segment.
func (s Snapshot) Key() string {
	return s.path[strings.LastIndex(s.path, "/")+1:]
}

func (s Snapshot) Exists() bool { return s.value != nil }

func (s Snapshot) Bytes() []byte { return s.value }

// Decode unmarshals the JSON value into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %s: no value", s.path)
	}
	return json.Unmarshal(s.value, v)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}

// under reports whether path is root or a descendant of it.
func under(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// mergeFields overlays fields onto the JSON object in current.
func mergeFields(current []byte, fields map[string]json.RawMessage) ([]byte, error) {
	obj := make(map[string]json.RawMessage)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &obj); err != nil || obj == nil {
			return nil, ErrNotObject
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}
