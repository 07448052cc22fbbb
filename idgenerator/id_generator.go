// Package idgenerator provides concurrency-safe generation of unique session
// identifiers. IDs are monotonically increasing and never reused for the
// lifetime of the generator, so a session ID observed by a consumer always
// refers to exactly one connection.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint64 IDs in a
// concurrency-safe manner. Each call to Id returns the next ID. The starting
// value is set at construction and the first Id() returns startValue+1.
type IdGenerator struct {
	start uint64
	id    atomic.Uint64
}

// NewIdGenerator creates an IdGenerator that will generate IDs starting from
// startValue+1. The generator is safe for concurrent use.
//
// Parameters:
//   - startValue: The value to initialize the counter to; the first Id() will
//     return startValue+1
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint64) *IdGenerator {
	gen := &IdGenerator{
		start: startValue,
	}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next unique ID by atomically incrementing the internal
// counter. It is safe for concurrent use by multiple goroutines.
//
// Returns:
//   - The next uint64 ID
func (g *IdGenerator) Id() uint64 {
	return g.id.Add(1)
}

// Current returns the most recently issued ID without advancing the counter.
// If no ID has been issued yet it returns the start value.
//
// Returns:
//   - The last uint64 ID handed out by Id, or the start value
func (g *IdGenerator) Current() uint64 {
	return g.id.Load()
}
