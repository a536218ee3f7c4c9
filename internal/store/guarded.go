package store

import (
	"context"

	"github.com/sells-group/clickprop/internal/resilience"
)

// guarded routes every Storage call through a circuit breaker so a failing
// backend is skipped quickly instead of being hit on every page.
type guarded struct {
	inner Storage
	cb    *resilience.CircuitBreaker
}

// Guarded wraps s with cb. A nil breaker returns s unchanged.
func Guarded(s Storage, cb *resilience.CircuitBreaker) Storage {
	if cb == nil {
		return s
	}
	return &guarded{inner: s, cb: cb}
}

type getResult struct {
	value string
	ok    bool
}

func (g *guarded) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (getResult, error) {
		v, ok, err := g.inner.Get(ctx, key)
		return getResult{value: v, ok: ok}, err
	})
	return res.value, res.ok, err
}

func (g *guarded) Set(ctx context.Context, key, value string) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, key, value)
	})
}

func (g *guarded) Delete(ctx context.Context, keys ...string) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Delete(ctx, keys...)
	})
}

func (g *guarded) Keys(ctx context.Context, contains string) ([]string, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.inner.Keys(ctx, contains)
	})
}
