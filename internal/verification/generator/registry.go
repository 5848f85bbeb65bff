package generator

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"
	"sync"
)

// ErrUnknownGenerator is returned by Get when the requested name is not
// registered. This is a configuration error: the caller should refuse to
// issue keys until an operator fixes the group's generator name.
var ErrUnknownGenerator = errors.New("unknown generator")

const (
	lowercaseAlphabet = "abcdefghijklmnopqrstuvwxyz"
	usernameAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pinAlphabet       = "0123456789"
	pinLength         = 4
)

// defaults builds the built-in generator set. Ids are fixed; Reset restores
// exactly this set.
func defaults() map[string]Generator {
	gens := []Generator{
		mustAlphabet("sms", SafeAlphabet, ShortLength),
		mustAlphabet("pin", pinAlphabet, pinLength),
		mustAlphabet("username", usernameAlphabet, ShortLength),
		mustAlphabet("lowercase", lowercaseAlphabet, ShortLength),
		mustHashed("md5-hex", md5.New),
		mustHashed("sha1-hex", sha1.New),
		mustHashed("sha224-hex", func() hash.Hash { return sha256.New224() }),
		mustHashed("sha256-hex", sha256.New),
		mustHashed("sha384-hex", func() hash.Hash { return sha512.New384() }),
		mustHashed("sha512-hex", sha512.New),
	}
	m := make(map[string]Generator, len(gens))
	for _, g := range gens {
		m[g.Name()] = g
	}
	return m
}

// Registry maps generator names to strategies. It is internally
// synchronized; Register/Unregister/Reset may race with Get from serving
// goroutines. Services receive a registry by injection rather than reaching
// for the process-wide Default directly.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry returns a registry populated with the built-in default set.
func NewRegistry() *Registry {
	return &Registry{generators: defaults()}
}

// Register inserts or overwrites the strategy under name.
func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = g
}

// Unregister removes name; no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.generators, name)
}

// Available returns the sorted set of registered names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the strategy registered under name, or ErrUnknownGenerator.
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("generator %q: %w", name, ErrUnknownGenerator)
	}
	return g, nil
}

// Lookup returns the strategy registered under name, or fallback (which may
// be nil) when absent. Unlike Get it never fails.
func (r *Registry) Lookup(name string, fallback Generator) Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.generators[name]; ok {
		return g
	}
	return fallback
}

// Reset restores exactly the built-in default set, removing any other
// registered name.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators = defaults()
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. Prefer passing a registry
// explicitly; this exists for wiring code and tests that exercise the
// shared instance.
func Default() *Registry {
	return defaultRegistry
}
