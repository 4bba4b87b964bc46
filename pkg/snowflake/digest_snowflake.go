// Package snowflake generates time-sortable 64-bit run IDs.
//
// Layout: 1 sign bit, 41 bits of milliseconds since the custom epoch,
// 10 bits of node ID, 12 bits of per-millisecond sequence. IDs are unique
// without coordination and sort chronologically, which keeps run history
// queries index-friendly.
package snowflake

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

const (
	// Custom epoch: 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeIDBits   = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeIDBits) - 1   // 1023
	maxSequence = (1 << sequenceBits) - 1 // 4095

	timestampShift = nodeIDBits + sequenceBits // 22
	nodeIDShift    = sequenceBits              // 12
)

var (
	ErrInvalidNodeID  = errors.New("node ID must be between 0 and 1023")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator produces unique run IDs for one node.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator. nodeID must be between 0 and 1023.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID}, nil
}

// NodeIDFor hashes an instance name (hostname-pid) into the node ID space,
// so replicas pick distinct IDs without a registry.
func NodeIDFor(instance string) int64 {
	h := fnv.New32a()
	h.Write([]byte(instance))
	return int64(h.Sum32()) & maxNodeID
}

// Generate returns the next ID.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := currentTimeMillis()
	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			now = waitNextMillis(g.lastTime)
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(g.nodeID << nodeIDShift) |
		g.sequence
	return id, nil
}

// MustGenerate returns the next ID and panics on clock trouble.
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse splits an ID into its components.
func Parse(id int64) (timestamp time.Time, nodeID int64, sequence int64) {
	ts := (id >> timestampShift) + epoch
	timestamp = time.UnixMilli(ts)
	nodeID = (id >> nodeIDShift) & maxNodeID
	sequence = id & maxSequence
	return
}

// Timestamp extracts just the creation time.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch)
}

func currentTimeMillis() int64 {
	return time.Now().UnixMilli()
}

func waitNextMillis(lastTime int64) int64 {
	now := currentTimeMillis()
	for now <= lastTime {
		time.Sleep(100 * time.Microsecond)
		now = currentTimeMillis()
	}
	return now
}
