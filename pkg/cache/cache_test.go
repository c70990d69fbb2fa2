package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetAndGet(t *testing.T) {
	c := NewTTLCache[string, []byte](time.Second, 0, 10)
	defer c.Stop()

	c.Set("tile:7:95:61", []byte("png"))

	if c.Count() != 1 {
		t.Fatalf("expected count 1, got %d", c.Count())
	}

	v, ok := c.Get("tile:7:95:61")
	if !ok {
		t.Fatalf("expected to find key")
	}
	if string(v) != "png" {
		t.Errorf("expected value 'png', got %q", v)
	}
}

func TestTTLCacheExpiration(t *testing.T) {
	c := NewTTLCache[string, string](50*time.Millisecond, 10*time.Millisecond, 10)
	defer c.Stop()

	c.Set("temp", "data")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("temp"); ok {
		t.Errorf("expected item to expire")
	}
	if c.Count() != 0 {
		t.Errorf("expected cache to be empty after expiration, got %d", c.Count())
	}
}

func TestTTLCacheEviction(t *testing.T) {
	c := NewTTLCache[string, int](time.Second, 0, 2)
	defer c.Stop()

	c.Set("a", 1)
	time.Sleep(time.Millisecond)
	c.Set("b", 2)
	time.Sleep(time.Millisecond)
	c.Set("c", 3) // evicts "a"

	if c.Count() != 2 {
		t.Fatalf("expected count 2 after eviction, got %d", c.Count())
	}
	if _, ok := c.Get("a"); ok {
		t.Errorf("expected 'a' to be evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("expected to get 2 for 'b', got %v", v)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("expected to get 3 for 'c', got %v", v)
	}
}

func TestTTLCacheDeleteAndClear(t *testing.T) {
	c := NewTTLCache[string, int](0, 0, 0)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected 'a' to be deleted")
	}

	c.Clear()
	if c.Count() != 0 {
		t.Errorf("expected empty cache, got %d", c.Count())
	}

	c.Stop()
	c.Stop()
}
