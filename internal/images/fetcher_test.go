package images

import (
	"context"
	"testing"

	"github.com/vnmchuo/content-bot/internal/provider"
)

type mockProvider struct {
	name       string
	configured bool
	urls       []string
	err        error
	calls      int
}

func (m *mockProvider) Search(ctx context.Context, keyword string, maxResults int) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.urls) > maxResults {
		return m.urls[:maxResults], nil
	}
	return m.urls, nil
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Configured() bool { return m.configured }

type mockCache struct {
	entries map[string][]string
	puts    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]string)}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]string, bool) {
	urls, ok := m.entries[key]
	return urls, ok
}

func (m *mockCache) Put(ctx context.Context, key string, urls []string) error {
	m.puts++
	m.entries[key] = urls
	return nil
}

func TestSearchCacheHit(t *testing.T) {
	cache := newMockCache()
	cache.entries["go"] = []string{"https://img.example/cached.jpg"}
	p := &mockProvider{name: "pexels", configured: true, urls: []string{"https://img.example/fresh.jpg"}}
	f := NewFetcher(cache, p)

	urls, reason := f.Search(context.Background(), "go", 3)
	if reason != "" {
		t.Fatalf("expected empty reason, got %q", reason)
	}
	if len(urls) != 1 || urls[0] != "https://img.example/cached.jpg" {
		t.Errorf("expected cached url, got %v", urls)
	}
	if p.calls != 0 {
		t.Errorf("expected provider not to be called on cache hit, got %d calls", p.calls)
	}
}

func TestSearchFallbackOrder(t *testing.T) {
	failing := &mockProvider{name: "unsplash", configured: true, err: &provider.TransientError{Provider: "unsplash"}}
	working := &mockProvider{name: "pexels", configured: true, urls: []string{"https://img.example/b.jpg"}}
	never := &mockProvider{name: "pixabay", configured: true, urls: []string{"https://img.example/c.jpg"}}
	cache := newMockCache()
	f := NewFetcher(cache, failing, working, never)

	urls, reason := f.Search(context.Background(), "mountains", 3)
	if reason != "" {
		t.Fatalf("expected empty reason, got %q", reason)
	}
	if len(urls) != 1 || urls[0] != "https://img.example/b.jpg" {
		t.Errorf("expected second provider's url, got %v", urls)
	}
	if failing.calls != provider.MaxAttempts {
		t.Errorf("expected first provider retried %d times, got %d", provider.MaxAttempts, failing.calls)
	}
	if never.calls != 0 {
		t.Errorf("expected third provider never called, got %d calls", never.calls)
	}
	if cache.puts != 1 {
		t.Errorf("expected winning result cached once, got %d puts", cache.puts)
	}
}

func TestSearchSkipsUnconfigured(t *testing.T) {
	skipped := &mockProvider{name: "unsplash", configured: false, urls: []string{"https://img.example/a.jpg"}}
	working := &mockProvider{name: "pexels", configured: true, urls: []string{"https://img.example/b.jpg"}}
	f := NewFetcher(newMockCache(), skipped, working)

	urls, reason := f.Search(context.Background(), "coffee", 3)
	if reason != "" {
		t.Fatalf("expected empty reason, got %q", reason)
	}
	if len(urls) != 1 || urls[0] != "https://img.example/b.jpg" {
		t.Errorf("expected configured provider's url, got %v", urls)
	}
	if skipped.calls != 0 {
		t.Errorf("expected unconfigured provider never called, got %d calls", skipped.calls)
	}
}

func TestSearchNoProvidersConfigured(t *testing.T) {
	a := &mockProvider{name: "unsplash", configured: false}
	b := &mockProvider{name: "pexels", configured: false}
	f := NewFetcher(newMockCache(), a, b)

	urls, reason := f.Search(context.Background(), "anything", 3)
	if len(urls) != 0 {
		t.Errorf("expected no urls, got %v", urls)
	}
	if reason != ReasonNotConfigured {
		t.Errorf("expected reason %q, got %q", ReasonNotConfigured, reason)
	}
}

func TestSearchAllRateLimited(t *testing.T) {
	a := &mockProvider{name: "unsplash", configured: true, err: &provider.RateLimitError{Provider: "unsplash"}}
	b := &mockProvider{name: "pexels", configured: true, err: &provider.RateLimitError{Provider: "pexels"}}
	f := NewFetcher(newMockCache(), a, b)

	urls, reason := f.Search(context.Background(), "storm", 3)
	if len(urls) != 0 {
		t.Errorf("expected no urls, got %v", urls)
	}
	if reason != ReasonRateLimited {
		t.Errorf("expected reason %q, got %q", ReasonRateLimited, reason)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("expected rate limit errors not retried, got %d and %d calls", a.calls, b.calls)
	}
}

func TestSearchNoResults(t *testing.T) {
	a := &mockProvider{name: "unsplash", configured: true, urls: nil}
	b := &mockProvider{name: "pexels", configured: true, urls: nil}
	cache := newMockCache()
	f := NewFetcher(cache, a, b)

	urls, reason := f.Search(context.Background(), "qwxzv", 3)
	if len(urls) != 0 {
		t.Errorf("expected no urls, got %v", urls)
	}
	if reason != ReasonNoResults {
		t.Errorf("expected reason %q, got %q", ReasonNoResults, reason)
	}
	if cache.puts != 0 {
		t.Errorf("expected no cache writes for empty results, got %d", cache.puts)
	}
}

func TestSearchCircuitBreakerOpens(t *testing.T) {
	broken := &mockProvider{name: "unsplash", configured: true, err: &provider.AuthError{Provider: "unsplash"}}
	f := NewFetcher(newMockCache(), broken)

	for i := 0; i < 3; i++ {
		if _, reason := f.Search(context.Background(), "sea", 3); reason == "" {
			t.Fatalf("expected failure on request %d", i)
		}
	}
	callsBefore := broken.calls
	if _, reason := f.Search(context.Background(), "sea", 3); reason != ReasonNoResults {
		t.Errorf("expected reason %q with open breaker, got %q", ReasonNoResults, reason)
	}
	if broken.calls != callsBefore {
		t.Errorf("expected open breaker to skip provider, calls went %d -> %d", callsBefore, broken.calls)
	}
}

func TestFetchImageReturnsFirstURL(t *testing.T) {
	p := &mockProvider{name: "pexels", configured: true, urls: []string{"https://img.example/one.jpg", "https://img.example/two.jpg"}}
	f := NewFetcher(newMockCache(), p)

	url, reason := f.FetchImage(context.Background(), "lake")
	if reason != "" {
		t.Fatalf("expected empty reason, got %q", reason)
	}
	if url != "https://img.example/one.jpg" {
		t.Errorf("expected first url, got %q", url)
	}
}
