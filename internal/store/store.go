// Package store persists captured parameters across page loads in a
// namespaced, expiring key-value layout.
package store

import (
	"context"
	"strings"
)

// Storage is a string key-value capability. Implementations must be safe
// for concurrent use.
type Storage interface {
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists every key containing the given substring.
	Keys(ctx context.Context, contains string) ([]string, error)
}

// Backend is a Storage with a schema lifecycle.
type Backend interface {
	Storage
	Migrate(ctx context.Context) error
	Close() error
}

// scoped prefixes every key so that many visitors can share one backend.
type scoped struct {
	inner  Storage
	prefix string
}

// Scoped returns a Storage whose keys are isolated under scope. An empty
// scope returns s unchanged.
func Scoped(s Storage, scope string) Storage {
	if scope == "" {
		return s
	}
	return &scoped{inner: s, prefix: "v:" + scope + ":"}
}

func (s *scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *scoped) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *scoped) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	return s.inner.Delete(ctx, full...)
}

func (s *scoped) Keys(ctx context.Context, contains string) ([]string, error) {
	all, err := s.inner.Keys(ctx, contains)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range all {
		if rest, ok := strings.CutPrefix(k, s.prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}
