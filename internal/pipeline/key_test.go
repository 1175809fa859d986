package pipeline

import (
	"regexp"
	"testing"

	mimir "github.com/user/mimir"
)

func TestCacheKeyFormat(t *testing.T) {
	key := CacheKey(mimir.Request{Query: "customers named 홍길동"})
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(key) {
		t.Fatalf("key = %q, want 32 lowercase hex characters", key)
	}
}

func TestCacheKeyNormalizationEquivalence(t *testing.T) {
	a := CacheKey(mimir.Request{Query: "Customers   NAMED 홍길동"})
	b := CacheKey(mimir.Request{Query: "customers named 홍길동"})
	if a != b {
		t.Error("whitespace/case variants produced different keys")
	}

	c := CacheKey(mimir.Request{Query: "customers named 홍길동", Options: mimir.Options{Limit: 50}})
	if a == c {
		t.Error("different options produced the same key")
	}
}

func TestCacheKeyContextOrderIndependent(t *testing.T) {
	a := CacheKey(mimir.Request{Query: "q", Context: map[string]any{"a": 1, "b": "x"}})
	b := CacheKey(mimir.Request{Query: "q", Context: map[string]any{"b": "x", "a": 1}})
	if a != b {
		t.Error("context key order changed the cache key")
	}
}

func TestCacheKeyDeliveryFlagsIgnored(t *testing.T) {
	a := CacheKey(mimir.Request{Query: "q", Options: mimir.Options{UseCache: true}})
	b := CacheKey(mimir.Request{Query: "q", Options: mimir.Options{UseCache: false}})
	if a != b {
		t.Error("use_cache flag changed the cache key")
	}
}
