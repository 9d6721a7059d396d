package reconcile

import "testing"

func TestGapTracker_SeedThenAdvance(t *testing.T) {
	g := NewGapTracker()
	g.Seed(map[string]int64{"a": 100})

	known, ok := g.HighestKnown("a")
	if !ok || known != 100 {
		t.Fatalf("expected seeded value 100, got %d ok=%v", known, ok)
	}

	g.Advance("a", 150)
	known, _ = g.HighestKnown("a")
	if known != 150 {
		t.Fatalf("expected advance to 150, got %d", known)
	}

	g.Advance("a", 50) // stale, must not regress
	known, _ = g.HighestKnown("a")
	if known != 150 {
		t.Fatalf("expected no regression, got %d", known)
	}
}

func TestGapTracker_Reachable(t *testing.T) {
	g := NewGapTracker()
	g.Seed(map[string]int64{"a": 1000})

	if !g.Reachable("a", 1050, 100) {
		t.Fatal("expected small gap to be reachable incrementally")
	}
	if g.Reachable("a", 5000, 100) {
		t.Fatal("expected large gap to require snapshot restore")
	}
	if g.Reachable("unknown-node", 100, 100) {
		t.Fatal("expected unknown node to be unreachable")
	}
}
