package generator

import (
	"fmt"
	"strings"
)

// SafeAlphabet excludes characters that are hard to tell apart in some
// phone fonts: 1 vs. l vs. I.
const SafeAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNOPQRSTUVWXYZ0123456789+-"

// ShortLength is the default token length for alphabet generators, short
// enough to retype from an SMS.
const ShortLength = 8

// Alphabet draws Length characters independently and uniformly at random
// from a configured alphabet.
type Alphabet struct {
	name     string
	alphabet string
	length   int
	src      *source
}

// NewAlphabet constructs an alphabet generator. The alphabet must be
// non-empty and the length positive.
func NewAlphabet(name, alphabet string, length int) (*Alphabet, error) {
	if name == "" {
		return nil, fmt.Errorf("alphabet generator: name is required")
	}
	if alphabet == "" {
		return nil, fmt.Errorf("alphabet generator %q: alphabet is required", name)
	}
	if length <= 0 {
		return nil, fmt.Errorf("alphabet generator %q: length must be positive, got %d", name, length)
	}
	return &Alphabet{name: name, alphabet: alphabet, length: length}, nil
}

// mustAlphabet builds a default generator; panics on invalid construction,
// which only happens with broken compile-time defaults.
func mustAlphabet(name, alphabet string, length int) *Alphabet {
	g, err := NewAlphabet(name, alphabet, length)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Alphabet) Name() string { return g.name }

func (g *Alphabet) Length() int { return g.length }

// Generate draws a fresh token. Alphabet generators take no extra input;
// args are accepted for interface compatibility and ignored.
func (g *Alphabet) Generate(_ ...string) (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		b.WriteByte(g.alphabet[g.src.intN(len(g.alphabet))])
	}
	return b.String(), nil
}

// Validate checks exact length and that every character belongs to the
// configured alphabet.
func (g *Alphabet) Validate(token string) bool {
	if len(token) != g.length {
		return false
	}
	for i := 0; i < len(token); i++ {
		if strings.IndexByte(g.alphabet, token[i]) < 0 {
			return false
		}
	}
	return true
}

// Seeded returns a deterministic clone for tests. The clone owns a private
// seeded PRNG; the receiver is unchanged.
func (g *Alphabet) Seeded(seed int64) Generator {
	clone := *g
	clone.src = newSeededSource(seed)
	return &clone
}
