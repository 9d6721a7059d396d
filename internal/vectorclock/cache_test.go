package vectorclock

import (
	"testing"

	"github.com/riftdb/riftdb/internal/hlc"
)

func ts(physical int64, logical int32, node string) hlc.Timestamp {
	return hlc.Timestamp{Physical: physical, Logical: logical, NodeID: node}
}

func TestCache_UpdateIsMonotonic(t *testing.T) {
	c := NewCache()
	c.Update(ts(100, 0, "a"), "h1")
	c.Update(ts(50, 0, "a"), "h0") // older, must be ignored

	hash, ok := c.GetLastHash("a")
	if !ok || hash != "h1" {
		t.Fatalf("expected h1 to survive, got %q ok=%v", hash, ok)
	}

	c.Update(ts(200, 0, "a"), "h2")
	hash, _ = c.GetLastHash("a")
	if hash != "h2" {
		t.Fatalf("expected h2 after strictly greater update, got %q", hash)
	}
}

func TestCache_GetLatestTimestampEmpty(t *testing.T) {
	c := NewCache()
	latest := c.GetLatestTimestamp()
	if !latest.IsZero() {
		t.Fatalf("expected zero timestamp for empty cache, got %v", latest)
	}
}

func TestCache_GetLatestTimestampAcrossNodes(t *testing.T) {
	c := NewCache()
	c.Update(ts(100, 0, "a"), "ha")
	c.Update(ts(300, 0, "b"), "hb")
	c.Update(ts(200, 0, "c"), "hc")

	latest := c.GetLatestTimestamp()
	if latest.NodeID != "b" || latest.Physical != 300 {
		t.Fatalf("expected node b's timestamp as latest, got %v", latest)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache()
	c.Update(ts(100, 0, "a"), "ha")
	c.Invalidate()

	if _, ok := c.GetLastHash("a"); ok {
		t.Fatal("expected cache empty after invalidate")
	}
	if vc := c.GetVectorClock(); len(vc) != 0 {
		t.Fatalf("expected empty vector clock, got %v", vc)
	}
}

func TestCache_SeedDoesNotRegressExisting(t *testing.T) {
	c := NewCache()
	c.Update(ts(500, 0, "a"), "h500")

	c.Seed(map[string]Entry{
		"a": {Timestamp: ts(100, 0, "a"), Hash: "h100"},
		"b": {Timestamp: ts(50, 0, "b"), Hash: "h50"},
	})

	hash, _ := c.GetLastHash("a")
	if hash != "h500" {
		t.Fatalf("expected seed not to regress node a, got %q", hash)
	}
	hash, ok := c.GetLastHash("b")
	if !ok || hash != "h50" {
		t.Fatalf("expected node b seeded, got %q ok=%v", hash, ok)
	}
}

func TestCache_GetVectorClockIsDefensiveCopy(t *testing.T) {
	c := NewCache()
	c.Update(ts(100, 0, "a"), "ha")

	vc := c.GetVectorClock()
	vc["a"] = Entry{Timestamp: ts(999, 0, "a"), Hash: "tampered"}

	hash, _ := c.GetLastHash("a")
	if hash != "ha" {
		t.Fatal("mutating the returned map must not affect the cache")
	}
}
