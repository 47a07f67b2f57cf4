package cache

import (
	"testing"
	"time"
)

func BenchmarkLRU_Set(b *testing.B) {
	c := NewLRU[[]float32](1000, 5*time.Minute)
	vec := make([]float32, 768)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(HashKey(string(rune(i))), vec)
	}
}

func BenchmarkLRU_ConcurrentAccess(b *testing.B) {
	c := NewLRU[string](1000, 5*time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(HashKey(string(rune(i))), "value")
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := HashKey(string(rune(i % 100)))
			if i%2 == 0 {
				c.Get(key)
			} else {
				c.Set(key, "value")
			}
			i++
		}
	})
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](3, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if val, ok := c.Get("a"); !ok || val != 1 {
		t.Fatalf("expected 1, got %v", val)
	}

	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected 'b' to be evicted")
	}
	if c.Len() != 3 {
		t.Fatalf("expected cache length 3, got %d", c.Len())
	}
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU[string](10, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("key", "value")
	if val, ok := c.Get("key"); !ok || val != "value" {
		t.Fatalf("expected value to be present")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("key"); ok {
		t.Fatalf("expected value to be expired")
	}
}

func TestLRU_DumpRestore(t *testing.T) {
	src := NewLRU[string](4, time.Hour)
	src.Set("x", "1")
	src.Set("y", "2")

	dst := NewLRU[string](4, time.Hour)
	dst.Set("stale", "0")
	dst.Restore(src.Dump())

	if _, ok := dst.Get("stale"); ok {
		t.Fatalf("Restore must replace existing entries")
	}
	if v, ok := dst.Get("y"); !ok || v != "2" {
		t.Fatalf("expected restored entry, got %q %v", v, ok)
	}
}

func TestHashKeySeparatesParts(t *testing.T) {
	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Fatalf("HashKey must not collide across part boundaries")
	}
	if HashKey("q") != HashKey("q") {
		t.Fatalf("HashKey must be deterministic")
	}
}
