package engine

import "hash/fnv"

// Rand is a small splitmix64 generator. Its entire state is one uint64, which
// keeps snapshots trivially serializable and replay bit-exact across restarts.
type Rand struct {
	state uint64
}

// NewRand seeds a generator from an arbitrary seed string.
func NewRand(seed string) *Rand {
	h := fnv.New64a()
	h.Write([]byte(seed))
	s := h.Sum64()
	if s == 0 {
		s = 0x9e3779b97f4a7c15
	}
	return &Rand{state: s}
}

// Uint64 returns the next value in the sequence.
func (r *Rand) Uint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a value in [0, n). Panics if n <= 0.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		panic("engine: Intn called with n <= 0")
	}
	return int(r.Uint64() % uint64(n))
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// State exposes the generator state for snapshotting.
func (r *Rand) State() uint64 { return r.state }

// SetState restores a previously captured state.
func (r *Rand) SetState(s uint64) { r.state = s }
