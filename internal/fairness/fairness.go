// Package fairness implements the commit-reveal scheme behind every round:
// a secret server seed is committed to by its hash before the bet is placed
// and revealed after settlement so anyone can replay the shuffle.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// SeedBytes is the amount of entropy in a server seed.
const SeedBytes = 32

// GenerateSeed returns a fresh hex encoded server seed.
func GenerateSeed() (string, error) {
	b := make([]byte, SeedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Commit returns the public commitment for seed: hex(sha256(seed)).
func Commit(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether seed hashes to commitment.
func VerifyCommitment(seed, commitment string) bool {
	return subtle.ConstantTimeCompare([]byte(Commit(seed)), []byte(commitment)) == 1
}

// GameHash binds a revealed seed to the round it produced:
// hex(sha256("<deckSeed>:<gameId>:<betId>:<amount>")).
func GameHash(deckSeed, gameID, betID string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", deckSeed, gameID, betID, amount)))
	return hex.EncodeToString(sum[:])
}

// Stream is a deterministic source of uniform integers derived from a seed
// and the public parameters of a bet. Block k is
// HMAC-SHA256(key=seed, msg="<betId>:<amount>:<k>"), consumed 4 bytes at a time.
type Stream struct {
	mac     []byte
	key     []byte
	prefix  string
	counter uint64
	buf     []byte
}

// NewStream creates the stream for one bet.
func NewStream(seed, betID string, amount int64) *Stream {
	return &Stream{
		key:    []byte(seed),
		prefix: fmt.Sprintf("%s:%d:", betID, amount),
	}
}

func (s *Stream) next32() uint32 {
	if len(s.buf) < 4 {
		h := hmac.New(sha256.New, s.key)
		h.Write([]byte(fmt.Sprintf("%s%d", s.prefix, s.counter)))
		s.counter++
		s.mac = h.Sum(s.mac[:0])
		s.buf = s.mac
	}
	v := binary.BigEndian.Uint32(s.buf[:4])
	s.buf = s.buf[4:]
	return v
}

// Intn returns a uniform integer in [0, n). Words at or above the largest
// multiple of n are discarded so every residue is equally likely.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		panic("fairness: Intn with non-positive bound")
	}
	bound := uint64(n)
	limit := (1 << 32) / bound * bound
	for {
		v := uint64(s.next32())
		if v < limit {
			return int(v % bound)
		}
	}
}

// Shuffle returns a permutation of [0, n) using Fisher-Yates driven by the
// stream of seed, betID and amount. Equal inputs always give equal output.
func Shuffle(seed, betID string, amount int64, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	s := NewStream(seed, betID, amount)
	for i := n - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}
