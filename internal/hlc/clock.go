// Package hlc implements the hybrid logical clock described in spec §4.1:
// a node-tagged timestamp that is strictly increasing per process and
// advances monotonically on receipt of a remote timestamp, even under
// clock skew or regression.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is the value triple (physicalTime ms, logicalCounter, nodeID).
// Total order: physicalTime, then logicalCounter, then ordinal nodeID.
type Timestamp struct {
	Physical int64 // ms since epoch
	Logical  int32
	NodeID   string
}

// Compare returns -1, 0, or 1 following the total order in spec §3.
func (t Timestamp) Compare(o Timestamp) int {
	if t.Physical != o.Physical {
		if t.Physical < o.Physical {
			return -1
		}
		return 1
	}
	if t.Logical != o.Logical {
		if t.Logical < o.Logical {
			return -1
		}
		return 1
	}
	if t.NodeID == o.NodeID {
		return 0
	}
	if t.NodeID < o.NodeID {
		return -1
	}
	return 1
}

func (t Timestamp) Less(o Timestamp) bool    { return t.Compare(o) < 0 }
func (t Timestamp) Greater(o Timestamp) bool { return t.Compare(o) > 0 }
func (t Timestamp) Equal(o Timestamp) bool   { return t.Compare(o) == 0 }
func (t Timestamp) IsZero() bool             { return t.Physical == 0 && t.Logical == 0 && t.NodeID == "" }

func (t Timestamp) String() string {
	return fmt.Sprintf("HLC{physical=%s, logical=%d, node=%s}",
		time.UnixMilli(t.Physical).UTC().Format(time.RFC3339Nano), t.Logical, t.NodeID)
}

// Age returns how long ago t was generated, relative to nowMs.
func (t Timestamp) Age(nowMs int64) time.Duration {
	if nowMs > t.Physical {
		return time.Duration(nowMs-t.Physical) * time.Millisecond
	}
	return 0
}

// Clock is the mutex-guarded generator from spec §4.1.
type Clock struct {
	mu       sync.Mutex
	physical int64
	logical  int32
	nodeID   string
}

func NewClock(nodeID string) *Clock {
	return &Clock{
		physical: time.Now().UnixMilli(),
		nodeID:   nodeID,
	}
}

// Now generates a new timestamp for a local write.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	if now > c.physical {
		c.physical = now
		c.logical = 0
	} else {
		c.logical++
	}

	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// Update advances the local clock on receipt of a remote timestamp, per the
// classic HLC receive rule in spec §4.1: take the max of local physical,
// wall clock, and remote physical; bump the logical counter only when the
// winning physical time ties with one of the inputs.
func (c *Clock) Update(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	maxPhysical := c.physical
	if now > maxPhysical {
		maxPhysical = now
	}
	if remote.Physical > maxPhysical {
		maxPhysical = remote.Physical
	}

	switch {
	case maxPhysical == c.physical && maxPhysical == remote.Physical:
		if c.logical > remote.Logical {
			c.logical++
		} else {
			c.logical = remote.Logical + 1
		}
	case maxPhysical == c.physical:
		c.logical++
	case maxPhysical == remote.Physical:
		c.logical = remote.Logical + 1
	default:
		c.logical = 0
	}
	c.physical = maxPhysical
}

func (c *Clock) NodeID() string { return c.nodeID }
