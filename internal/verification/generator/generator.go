// Package generator provides the token generation strategies used when
// issuing verification keys, and the registry that resolves them by name.
//
// Two families of strategies exist: alphabet generators draw a fixed number
// of characters uniformly from a configured alphabet, and hashed generators
// derive a hex digest from a salted input. Both produce plain strings; the
// store layer is responsible for token uniqueness.
package generator

import (
	"math/rand/v2"
	"strconv"
	"sync"
)

// Generator produces candidate token strings and validates token format.
// Implementations are stateless and safe for concurrent use.
type Generator interface {
	// Name is the unique id the generator registers under.
	Name() string
	// Length is the exact length of every token the generator produces.
	Length() int
	// Generate returns a new token. Extra args feed into digest-based
	// strategies and are ignored by alphabet strategies.
	Generate(args ...string) (string, error)
	// Validate reports whether token could have been produced by this
	// generator (exact length, allowed characters).
	Validate(token string) bool
}

// Seeder is implemented by generators that can produce a deterministic
// clone for tests. Seeded generators yield a predictable token stream and
// must never be used for production issuance.
type Seeder interface {
	Seeded(seed int64) Generator
}

// source wraps the randomness used by a generator. A zero source delegates
// to the process-wide math/rand source, which is already synchronized. A
// seeded source owns a private PRNG and guards it with a mutex so seeded
// generators stay safe under concurrent Generate calls.
type source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeededSource(seed int64) *source {
	return &source{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)))}
}

func (s *source) intN(n int) int {
	if s == nil || s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *source) float64() float64 {
	if s == nil || s.rng == nil {
		return rand.Float64()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// randomInput returns the string form of a fresh random value, used as salt
// material and as the default digest input when no args are supplied.
func (s *source) randomInput() string {
	return strconv.FormatFloat(s.float64(), 'g', -1, 64)
}
