package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphabetGenerate(t *testing.T) {
	tests := []struct {
		name     string
		alphabet string
		length   int
	}{
		{"sms", SafeAlphabet, ShortLength},
		{"pin", pinAlphabet, pinLength},
		{"lowercase", lowercaseAlphabet, ShortLength},
		{"username", usernameAlphabet, ShortLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewAlphabet(tt.name, tt.alphabet, tt.length)
			require.NoError(t, err)

			for i := 0; i < 100; i++ {
				token, err := g.Generate()
				require.NoError(t, err)
				assert.Len(t, token, tt.length)
				for _, c := range token {
					assert.Contains(t, tt.alphabet, string(c))
				}
				assert.True(t, g.Validate(token), "generated token must validate: %q", token)
			}
		})
	}
}

func TestAlphabetConstructionErrors(t *testing.T) {
	_, err := NewAlphabet("", SafeAlphabet, 8)
	assert.Error(t, err)

	_, err = NewAlphabet("empty", "", 8)
	assert.Error(t, err)

	_, err = NewAlphabet("zero", SafeAlphabet, 0)
	assert.Error(t, err)
}

func TestAlphabetValidate(t *testing.T) {
	g, err := NewAlphabet("sms", SafeAlphabet, ShortLength)
	require.NoError(t, err)

	assert.False(t, g.Validate(""), "empty token")
	assert.False(t, g.Validate("abc"), "too short")
	assert.False(t, g.Validate(strings.Repeat("a", ShortLength+1)), "too long")
	assert.False(t, g.Validate("abcdefg1"), "1 is excluded from the safe alphabet")
	assert.False(t, g.Validate("abcdefgl"), "l is excluded from the safe alphabet")
	assert.True(t, g.Validate("abcdefgh"))
}

func TestAlphabetSeededDeterminism(t *testing.T) {
	base, err := NewAlphabet("sms", SafeAlphabet, ShortLength)
	require.NoError(t, err)

	first, err := base.Seeded(42).Generate()
	require.NoError(t, err)
	second, err := base.Seeded(42).Generate()
	require.NoError(t, err)
	assert.Equal(t, first, second, "same seed must reproduce the token")

	other, err := base.Seeded(43).Generate()
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "different seed should diverge")
}

func TestAlphabetUnseededVariance(t *testing.T) {
	g, err := NewAlphabet("sms", SafeAlphabet, ShortLength)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token, err := g.Generate()
		require.NoError(t, err)
		seen[token] = true
	}
	// 20 draws from 62^8 colliding would indicate a broken source.
	assert.Greater(t, len(seen), 1, "unseeded generation must vary")
}

func TestHashedGenerate(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"md5-hex", 32},
		{"sha1-hex", 40},
		{"sha224-hex", 56},
		{"sha256-hex", 64},
		{"sha384-hex", 96},
		{"sha512-hex", 128},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := reg.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.length, g.Length())

			token, err := g.Generate()
			require.NoError(t, err)
			assert.Len(t, token, tt.length)
			for _, c := range token {
				assert.Contains(t, hexAlphabet, string(c))
			}
			assert.True(t, g.Validate(token))
		})
	}
}

func TestHashedSaltVariesOutput(t *testing.T) {
	g, err := reg().Get("sha1-hex")
	require.NoError(t, err)

	// Identical context args must still yield different tokens because a
	// fresh random salt is mixed into the digest input.
	first, err := g.Generate("user@example.com")
	require.NoError(t, err)
	second, err := g.Generate("user@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHashedSeededDeterminism(t *testing.T) {
	g, err := reg().Get("sha256-hex")
	require.NoError(t, err)
	seeder, ok := g.(Seeder)
	require.True(t, ok, "hashed generators must support seeding")

	first, err := seeder.Seeded(7).Generate("ctx")
	require.NoError(t, err)
	second, err := seeder.Seeded(7).Generate("ctx")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	differentArgs, err := seeder.Seeded(7).Generate("other")
	require.NoError(t, err)
	assert.NotEqual(t, first, differentArgs)
}

func TestHashedValidate(t *testing.T) {
	g, err := reg().Get("md5-hex")
	require.NoError(t, err)

	assert.False(t, g.Validate(strings.Repeat("a", 31)))
	assert.False(t, g.Validate(strings.Repeat("a", 33)))
	assert.False(t, g.Validate(strings.Repeat("g", 32)), "g is not hex")
	assert.False(t, g.Validate(strings.Repeat("A", 32)), "uppercase hex is rejected")
	assert.True(t, g.Validate(strings.Repeat("a", 32)))
}

func reg() *Registry { return NewRegistry() }
