package solver

import (
	"crypto/sha256"
	"errors"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	HashSHA256  = "sha256"
	HashBlake2b = "blake2b"
)

var errUnknownHash = errors.New("unknown hash algorithm")

type HashFunc func() hash.Hash

func newBlake2b() hash.Hash {
	// only fails for keys longer than 64 bytes
	h, _ := blake2b.New256(nil)
	return h
}

// HashByName maps a configuration value to a digest constructor. Empty
// name selects SHA-256 which is what the faucet verifies against.
func HashByName(name string) (HashFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashSHA256:
		return sha256.New, nil
	case HashBlake2b:
		return newBlake2b, nil
	default:
		return nil, errUnknownHash
	}
}

// Difficulty recomputes the score of a single candidate.
func Difficulty(hf HashFunc, identifier string, salt uint64) uint32 {
	return LeadingZeroBits(Digest(hf, identifier, salt))
}

// Digest returns the hash of identifier ':' LE64(salt).
func Digest(hf HashFunc, identifier string, salt uint64) []byte {
	if hf == nil {
		hf = sha256.New
	}
	h := hf()
	h.Write(Message(identifier, salt))
	return h.Sum(nil)
}

func Verify(hf HashFunc, identifier string, salt uint64, minDifficulty uint32) bool {
	return Difficulty(hf, identifier, salt) >= minDifficulty
}
