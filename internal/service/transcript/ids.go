package transcript

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator allocates monotonically increasing utterance sequence numbers
// and identifiers scoped to one conversation.
type IDGenerator struct {
	prefix  string
	counter uint64
}

// NewIDGenerator returns a generator producing ids of the form "<prefix>-utt-<n>".
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next returns the next sequence number and its id.
func (g *IDGenerator) Next() (uint64, string) {
	n := atomic.AddUint64(&g.counter, 1)
	return n, fmt.Sprintf("%s-utt-%d", g.prefix, n)
}
