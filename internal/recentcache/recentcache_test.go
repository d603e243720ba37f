package recentcache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(10, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("chat1@g.us", "m1", []byte("hello"))
	got, ok := c.Get("chat1@g.us", "m1")
	if !ok || string(got) != "hello" {
		t.Errorf("Get = (%q, %v), want (hello, true)", got, ok)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := New(10, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("chat1@g.us", "missing"); ok {
		t.Error("Get = true for a missing key, want false")
	}
}

func TestDisabledCacheIsNoOp(t *testing.T) {
	c, err := New(10, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("chat1@g.us", "m1", []byte("hello"))
	if _, ok := c.Get("chat1@g.us", "m1"); ok {
		t.Error("Get = true on a disabled cache, want false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 on a disabled cache", c.Len())
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c, err := New(2, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("chat1@g.us", "m1", []byte("a"))
	c.Put("chat1@g.us", "m2", []byte("b"))
	c.Put("chat1@g.us", "m3", []byte("c"))
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after exceeding capacity", c.Len())
	}
	if _, ok := c.Get("chat1@g.us", "m1"); ok {
		t.Error("expected oldest entry to be evicted")
	}
}
