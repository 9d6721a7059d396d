package offlinequeue

import (
	"testing"

	"go.uber.org/zap"
)

func TestQueue_EnqueueDrainFIFOOrder(t *testing.T) {
	q := NewQueue(10, zap.NewNop())
	q.Enqueue(Operation{Collection: "widgets", Key: "k1"})
	q.Enqueue(Operation{Collection: "widgets", Key: "k2"})
	q.Enqueue(Operation{Collection: "widgets", Key: "k3"})

	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(drained))
	}
	for i, want := range []string{"k1", "k2", "k3"} {
		if drained[i].Key != want {
			t.Fatalf("expected FIFO order, index %d got %s want %s", i, drained[i].Key, want)
		}
	}
	if q.Len() != 0 {
		t.Fatal("expected queue empty after drain")
	}
}

func TestQueue_DropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2, zap.NewNop())
	q.Enqueue(Operation{Key: "k1"})
	q.Enqueue(Operation{Key: "k2"})
	q.Enqueue(Operation{Key: "k3"}) // should drop k1

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 remaining after overflow, got %d", len(drained))
	}
	if drained[0].Key != "k2" || drained[1].Key != "k3" {
		t.Fatalf("expected [k2,k3] after dropping oldest, got %+v", drained)
	}
}

func TestQueue_WraparoundAfterDrainAndRefill(t *testing.T) {
	q := NewQueue(2, zap.NewNop())
	q.Enqueue(Operation{Key: "a"})
	q.Enqueue(Operation{Key: "b"})
	q.Drain()
	q.Enqueue(Operation{Key: "c"})
	q.Enqueue(Operation{Key: "d"})

	drained := q.Drain()
	if len(drained) != 2 || drained[0].Key != "c" || drained[1].Key != "d" {
		t.Fatalf("expected [c,d] after wraparound, got %+v", drained)
	}
}
