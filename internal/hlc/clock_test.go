package hlc

import (
	"testing"
	"time"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock("node1")

	ts1 := clock.Now()
	if ts1.IsZero() {
		t.Fatal("expected non-zero timestamp")
	}
	if ts1.NodeID != "node1" {
		t.Errorf("expected node1, got %s", ts1.NodeID)
	}

	ts2 := clock.Now()
	if !ts2.Greater(ts1) {
		t.Error("expected ts2 after ts1 (monotonicity)")
	}

	ts3 := clock.Now()
	if !ts3.Greater(ts2) {
		t.Error("expected ts3 after ts2")
	}
}

func TestClock_Monotonicity(t *testing.T) {
	clock := NewClock("node1")

	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts := clock.Now()
		if i > 0 && !ts.Greater(prev) {
			t.Fatalf("monotonicity violated at iteration %d: %v not after %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestClock_Update(t *testing.T) {
	clock1 := NewClock("node1")
	clock2 := NewClock("node2")

	ts1 := clock1.Now()
	clock2.Update(ts1)
	ts2 := clock2.Now()

	if !ts2.Greater(ts1) {
		t.Errorf("expected ts2 after ts1: ts1=%v, ts2=%v", ts1, ts2)
	}
}

func TestClock_UpdateWithFutureDrift(t *testing.T) {
	// spec §4.1: Update never rejects; it always advances to
	// max(local, wallclock, remote) so convergence (S5) cannot stall on
	// clock skew.
	clock := NewClock("node1")

	future := Timestamp{
		Physical: time.Now().Add(1 * time.Hour).UnixMilli(),
		Logical:  0,
		NodeID:   "node2",
	}

	clock.Update(future)
	next := clock.Now()
	if !next.Greater(future) {
		t.Errorf("expected clock to advance past future remote timestamp, got %v vs %v", next, future)
	}
}

func TestTimestamp_Compare(t *testing.T) {
	h1 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h2 := Timestamp{Physical: 200, Logical: 3, NodeID: "n2"}
	h3 := Timestamp{Physical: 100, Logical: 5, NodeID: "n3"}

	if h1.Compare(h2) != -1 {
		t.Error("expected h1 < h2")
	}
	if h2.Compare(h1) != 1 {
		t.Error("expected h2 > h1")
	}
	// same physical/logical, ordinal nodeID tiebreak: n1 < n3
	if h1.Compare(h3) != -1 {
		t.Error("expected h1 < h3 by nodeID tiebreak")
	}
}

func TestTimestamp_Age(t *testing.T) {
	now := time.Now().UnixMilli()
	past := now - 5000

	h := Timestamp{Physical: past, Logical: 0, NodeID: "n1"}
	age := h.Age(now)
	if age < 4*time.Second || age > 6*time.Second {
		t.Errorf("expected age ~5s, got %v", age)
	}

	future := now + 5000
	hFuture := Timestamp{Physical: future, Logical: 0, NodeID: "n1"}
	if hFuture.Age(now) != 0 {
		t.Errorf("expected zero age for future timestamp")
	}
}

func TestTimestamp_Equal(t *testing.T) {
	h1 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h2 := Timestamp{Physical: 100, Logical: 5, NodeID: "n1"}
	h3 := Timestamp{Physical: 100, Logical: 6, NodeID: "n1"}

	if !h1.Equal(h2) {
		t.Error("expected h1 equal h2")
	}
	if h1.Equal(h3) {
		t.Error("expected h1 not equal h3")
	}
}

func TestClock_LogicalIncrement(t *testing.T) {
	clock := NewClock("node1")

	var prevPhysical int64
	var prevLogical int32
	logicalIncremented := false

	for i := 0; i < 100; i++ {
		ts := clock.Now()
		if ts.Physical == prevPhysical && ts.Logical > prevLogical {
			logicalIncremented = true
			break
		}
		prevPhysical = ts.Physical
		prevLogical = ts.Logical
	}

	if !logicalIncremented {
		t.Error("expected logical counter to increment for at least one timestamp with same physical time")
	}
}

func TestClock_CausalityPreservation(t *testing.T) {
	node1 := NewClock("node1")
	node2 := NewClock("node2")
	node3 := NewClock("node3")

	eventA := node1.Now()
	node2.Update(eventA)

	eventB := node2.Now()
	if !eventB.Greater(eventA) {
		t.Error("causality violated: B should happen after A")
	}

	node3.Update(eventB)

	eventC := node3.Now()
	if !eventC.Greater(eventB) {
		t.Error("causality violated: C should happen after B")
	}
	if !eventC.Greater(eventA) {
		t.Error("transitivity violated: C should happen after A")
	}
}

func TestTimestamp_IsZero(t *testing.T) {
	var zero Timestamp
	if !zero.IsZero() {
		t.Error("expected zero timestamp")
	}

	nonZero := Timestamp{Physical: 1, Logical: 0, NodeID: "n1"}
	if nonZero.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}
