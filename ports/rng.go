package ports

import (
	"math/rand"
)

// RNGSource provides seeded random streams. The partitioner never touches
// global random state; every shuffle draws from a stream built here.
type RNGSource interface {
	// Stream creates a deterministic generator for a named operation
	Stream(name string, seed int64) *rand.Rand
}
