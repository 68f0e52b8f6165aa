package groupcache

import (
	"testing"
	"time"

	"github.com/matheus3301/wpprelay/internal/transport"
)

func TestGetMiss(t *testing.T) {
	c := New(4, time.Minute)
	if _, ok := c.Get("nope@g.us"); ok {
		t.Error("Get() on empty cache reported a hit")
	}
}

func TestAddAndGet(t *testing.T) {
	c := New(4, time.Minute)
	c.Add("1@g.us", &transport.GroupMetadata{ID: "1@g.us", Subject: "family"})

	md, ok := c.Get("1@g.us")
	if !ok {
		t.Fatal("Get() miss after Add")
	}
	if md.Subject != "family" {
		t.Errorf("Subject = %q, want family", md.Subject)
	}
}

func TestAddNilIgnored(t *testing.T) {
	c := New(4, time.Minute)
	c.Add("1@g.us", nil)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestBounded(t *testing.T) {
	c := New(2, time.Minute)
	c.Add("a@g.us", &transport.GroupMetadata{ID: "a@g.us"})
	c.Add("b@g.us", &transport.GroupMetadata{ID: "b@g.us"})
	c.Add("c@g.us", &transport.GroupMetadata{ID: "c@g.us"})

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a@g.us"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestExpiry(t *testing.T) {
	c := New(4, 20*time.Millisecond)
	c.Add("a@g.us", &transport.GroupMetadata{ID: "a@g.us"})
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("a@g.us"); ok {
		t.Error("stale entry should be absent")
	}
}

func TestRemove(t *testing.T) {
	c := New(4, time.Minute)
	c.Add("a@g.us", &transport.GroupMetadata{ID: "a@g.us"})
	c.Remove("a@g.us")
	if _, ok := c.Get("a@g.us"); ok {
		t.Error("entry present after Remove")
	}
}

func TestDefaults(t *testing.T) {
	c := New(0, 0)
	c.Add("a@g.us", &transport.GroupMetadata{ID: "a@g.us"})
	if _, ok := c.Get("a@g.us"); !ok {
		t.Error("default cache should hold entries")
	}
}
