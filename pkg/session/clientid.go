package session

import (
	"math"
	"sync"
)

// ClientIDGenerator hands out the client ids sent with create_link and
// embedded in service request handles. Ids start at 1 and wrap back to 1
// after math.MaxInt32. Sessions sharing an interrupt listener must draw
// from the same generator.
type ClientIDGenerator struct {
	mu   sync.Mutex
	last int32
}

// NewClientIDGenerator returns a generator whose next id follows last.
func NewClientIDGenerator(last int32) *ClientIDGenerator {
	return &ClientIDGenerator{last: last}
}

// Next returns the next id.
func (g *ClientIDGenerator) Next() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last <= 0 || g.last == math.MaxInt32 {
		g.last = 0
	}
	g.last++
	return g.last
}
