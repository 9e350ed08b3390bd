// ABOUTME: Allocator for 128-bit snowflakes with a per-node sequence
// ABOUTME: Used by tooling (bootstrap) and tests; the gateway core only parses IDs

package snowflake

import (
	"sync"
	"time"
)

const sequenceMask = (uint64(1) << 40) - 1

// Generator allocates monotonically increasing IDs for a single node.
type Generator struct {
	mu     sync.Mutex
	node   uint16
	lastMS uint64
	seq    uint64
	now    func() time.Time
}

// NewGenerator creates a generator for the given node discriminator.
func NewGenerator(node uint16) *Generator {
	return &Generator{node: node, now: time.Now}
}

// Next allocates a new ID of the given model type.
func (g *Generator) Next(model ModelType) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(g.now().Sub(Epoch).Milliseconds())
	if ms <= g.lastMS {
		// clock went backwards or same millisecond: keep the last timestamp and
		// advance the sequence so ordering holds
		ms = g.lastMS
		g.seq = (g.seq + 1) & sequenceMask
		if g.seq == 0 {
			ms++
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms

	return ID{
		Hi: ms,
		Lo: g.seq<<24 | uint64(g.node)<<8 | uint64(model),
	}
}
