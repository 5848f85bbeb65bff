package generator

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

const hexAlphabet = "0123456789abcdef"

// saltLength is the number of hex characters of the hashed random value
// mixed into the digest input.
const saltLength = 5

// Hashed produces tokens by hashing a short random salt concatenated with
// the string form of the supplied args (or a fresh random value when no
// args are given) and returning the hex digest. Token length equals the
// digest's hex length, e.g. 32 for md5, 40 for sha1.
//
// This is a best-effort unguessable-string generator, not a MAC or any
// other cryptographic commitment: the digest input is guessable in
// principle and the salt is short. Do not treat these tokens as a security
// boundary stronger than the original scheme they are compatible with.
type Hashed struct {
	name    string
	newHash func() hash.Hash
	length  int
	src     *source
}

// NewHashed constructs a digest-based generator. newHash is a hash
// constructor such as sha1.New; the token length is derived from the
// digest size.
func NewHashed(name string, newHash func() hash.Hash) (*Hashed, error) {
	if name == "" {
		return nil, fmt.Errorf("hashed generator: name is required")
	}
	if newHash == nil {
		return nil, fmt.Errorf("hashed generator %q: hash constructor is required", name)
	}
	return &Hashed{
		name:    name,
		newHash: newHash,
		length:  hex.EncodedLen(newHash().Size()),
	}, nil
}

func mustHashed(name string, newHash func() hash.Hash) *Hashed {
	g, err := NewHashed(name, newHash)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Hashed) Name() string { return g.name }

func (g *Hashed) Length() int { return g.length }

// Generate hashes salt + joined args into a hex token.
func (g *Hashed) Generate(args ...string) (string, error) {
	if len(args) == 0 {
		args = []string{g.src.randomInput()}
	}
	salt := g.hexDigest(g.src.randomInput())[:saltLength]
	return g.hexDigest(salt + strings.Join(args, "")), nil
}

// Validate checks digest hex length and charset.
func (g *Hashed) Validate(token string) bool {
	if len(token) != g.length {
		return false
	}
	for i := 0; i < len(token); i++ {
		if strings.IndexByte(hexAlphabet, token[i]) < 0 {
			return false
		}
	}
	return true
}

// Seeded returns a deterministic clone for tests.
func (g *Hashed) Seeded(seed int64) Generator {
	clone := *g
	clone.src = newSeededSource(seed)
	return &clone
}

func (g *Hashed) hexDigest(input string) string {
	h := g.newHash()
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}
