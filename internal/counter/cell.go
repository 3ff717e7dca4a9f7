package counter

import "sync/atomic"

// Cell hands the latest stable count from the producer to the consumer.
// Count and sample sequence share one word so a Load never tears.
type Cell struct {
	v atomic.Int64
}

const countBits = 8

// Store publishes count and returns the new sequence number
func (c *Cell) Store(count int) uint64 {
	for {
		old := c.v.Load()
		seq := uint64(old)>>countBits + 1
		next := int64(seq<<countBits | uint64(count&0xff))
		if c.v.CompareAndSwap(old, next) {
			return seq
		}
	}
}

// Load returns the latest count and its sequence number. A zero sequence
// means nothing was stored yet.
func (c *Cell) Load() (count int, seq uint64) {
	v := uint64(c.v.Load())
	return int(v & 0xff), v >> countBits
}
