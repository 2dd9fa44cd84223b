package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/provmux/provider"
)

func newResponseCache(t *testing.T, backend Cache, opts ...Option) *ResponseCache {
	t.Helper()
	rc, err := NewResponseCache(backend, DefaultPolicy(), opts...)
	if err != nil {
		t.Fatalf("NewResponseCache() error = %v", err)
	}
	return rc
}

func TestNewResponseCache_NilBackend(t *testing.T) {
	if _, err := NewResponseCache(nil, DefaultPolicy()); !errors.Is(err, ErrNilCache) {
		t.Errorf("error = %v, want ErrNilCache", err)
	}
}

func TestResponseCache_PutGet(t *testing.T) {
	backend := newMapCache()
	rc := newResponseCache(t, backend)
	ctx := context.Background()

	req := provider.Request{ID: "r1", Model: "m", Prompt: "hello"}
	resp := &provider.Response{RequestID: "r1", ProviderID: "p1", Model: "m", Content: []byte("world"), Latency: time.Second}

	if err := rc.Put(ctx, req, resp); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	again := provider.Request{ID: "r2", Model: "m", Prompt: "  hello "}
	got, ok := rc.Get(ctx, again)
	if !ok {
		t.Fatal("expected a hit for an equivalent request")
	}
	if !got.Cached || got.RequestID != "r2" || got.ProviderID != "p1" || string(got.Content) != "world" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Latency != 0 {
		t.Errorf("Latency = %v, want 0 for a cached response", got.Latency)
	}
}

func TestResponseCache_TTLFollowsPriority(t *testing.T) {
	backend := newMapCache()
	rc := newResponseCache(t, backend)
	ctx := context.Background()

	req := provider.Request{Model: "m", Prompt: "p", Priority: provider.PriorityCritical}
	if err := rc.Put(ctx, req, &provider.Response{Content: []byte("x")}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	key, _ := NewDefaultKeyer().Key(req)
	if got := backend.ttls[key]; got != time.Minute {
		t.Errorf("ttl = %v, want 1m for critical", got)
	}
}

func TestResponseCache_NeverCachesSynthetic(t *testing.T) {
	backend := newMapCache()
	rc := newResponseCache(t, backend)
	ctx := context.Background()
	req := provider.Request{Model: "m", Prompt: "p"}

	for _, resp := range []*provider.Response{
		nil,
		{Content: []byte("x"), Fallback: true},
		{Content: []byte("x"), Queued: true},
		{Content: []byte("x"), Cached: true},
	} {
		if err := rc.Put(ctx, req, resp); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if backend.len() != 0 {
		t.Errorf("backend holds %d entries, want 0", backend.len())
	}
}

func TestResponseCache_SkipRule(t *testing.T) {
	backend := newMapCache()
	rc := newResponseCache(t, backend)
	ctx := context.Background()

	req := provider.Request{Model: "m", Prompt: "p", Metadata: map[string]string{CacheControlKey: "No-Store"}}
	_ = rc.Put(ctx, req, &provider.Response{Content: []byte("x")})
	if backend.len() != 0 {
		t.Error("no-store request was cached")
	}
	if _, ok := rc.Get(ctx, req); ok {
		t.Error("no-store request was served from cache")
	}
}

func TestResponseCache_CorruptEntry(t *testing.T) {
	backend := newMapCache()
	rc := newResponseCache(t, backend)
	ctx := context.Background()

	req := provider.Request{Model: "m", Prompt: "p"}
	key, _ := NewDefaultKeyer().Key(req)
	_ = backend.Set(ctx, key, []byte("{not json"), time.Minute)

	if _, ok := rc.Get(ctx, req); ok {
		t.Fatal("corrupt entry returned as hit")
	}
	if _, ok := backend.Get(ctx, key); ok {
		t.Error("corrupt entry should be deleted")
	}
	if rc.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", rc.Stats().Errors)
	}
}

func TestResponseCache_BackendSetError(t *testing.T) {
	backend := newMapCache()
	backend.setErr = errors.New("disk full")
	rc := newResponseCache(t, backend)

	err := rc.Put(context.Background(), provider.Request{Model: "m"}, &provider.Response{Content: []byte("x")})
	if err == nil {
		t.Fatal("expected backend error")
	}
	if rc.Stats().Sets != 0 {
		t.Error("failed store counted as a set")
	}
}

func TestResponseCache_StatsAndInvalidate(t *testing.T) {
	mem, err := NewMemoryCache(1)
	if err != nil {
		t.Fatal(err)
	}
	rc := newResponseCache(t, mem)
	ctx := context.Background()

	a := provider.Request{Model: "m", Prompt: "a"}
	b := provider.Request{Model: "m", Prompt: "b"}
	_ = rc.Put(ctx, a, &provider.Response{Content: []byte("1")})
	_ = rc.Put(ctx, b, &provider.Response{Content: []byte("2")})
	rc.Get(ctx, a)
	rc.Get(ctx, b)

	s := rc.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Sets != 2 || s.Evictions != 1 {
		t.Errorf("Stats() = %+v", s)
	}

	if err := rc.Invalidate(ctx, b); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := rc.Get(ctx, b); ok {
		t.Error("invalidated entry still served")
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestResponseCache_Key(t *testing.T) {
	rc := newResponseCache(t, newMapCache())

	a, ok := rc.Key(provider.Request{Model: "m", Prompt: "hello  world"})
	if !ok {
		t.Fatal("Key() ok = false for a cacheable request")
	}
	b, _ := rc.Key(provider.Request{Model: "m", Prompt: "hello world"})
	if a != b {
		t.Errorf("Key() = %q and %q, want equal keys for equivalent prompts", a, b)
	}

	skipped := provider.Request{Model: "m", Prompt: "x", Metadata: map[string]string{CacheControlKey: "no-store"}}
	if _, ok := rc.Key(skipped); ok {
		t.Error("Key() ok = true for a no-store request")
	}
}
