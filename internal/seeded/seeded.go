// Package seeded produces reproducible "random" decisions from stable keys.
//
// A key is hashed with FNV-1a to a 32-bit seed, which drives a mulberry32
// generator. Identical keys yield identical draws forever; keys that vary by
// day, subject and purpose spread uniformly. Callers must persist the state
// a draw produced, never the draw itself: re-deriving a past decision from
// the same key after other inputs changed would silently rewrite history.
package seeded

import "hash/fnv"

// Hash32 hashes a key to a 32-bit seed with FNV-1a.
func Hash32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// Source is a deterministic mulberry32 stream.
type Source struct {
	state uint32
}

// NewSource seeds a stream from the key's hash.
func NewSource(key string) *Source {
	return &Source{state: Hash32(key)}
}

// Float64 draws the next uniform value in [0, 1). The second scramble mixes
// the raw state back in (a>>7, not t>>7); that differs from the textbook
// mulberry32 and is kept so existing seeded streams stay stable.
func (s *Source) Float64() float64 {
	s.state += 0x6d2b79f5
	a := s.state
	t := (a ^ (a >> 15)) * (a | 1)
	t ^= t + (t^(a>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296.0
}

// IntN draws an integer in [0, n). n must be positive.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Float64() * float64(n))
}

// Decision returns the single uniform [0, 1) draw for a key. Compare the
// result against a threshold to pick a branch.
func Decision(key string) float64 {
	return NewSource(key).Float64()
}
