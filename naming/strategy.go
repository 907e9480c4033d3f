package naming

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync/atomic"
)

// DefaultIDLength is the wire identifier length used when none is configured.
const DefaultIDLength = 6

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Strategy produces a wire identifier for a (service, method) pair.
// Generated ids are checked for collisions by the Registry after the fact.
type Strategy interface {
	Generate(service, method string) string
}

// RandomStrategy draws identifiers uniformly from the alphanumeric alphabet.
// Non-deterministic: two generation runs produce different mappings, so the
// resulting Document must be exchanged between peers.
type RandomStrategy struct {
	Length int
}

func NewRandomStrategy(length int) *RandomStrategy {
	if length <= 0 {
		length = DefaultIDLength
	}
	return &RandomStrategy{Length: length}
}

func (s *RandomStrategy) Generate(service, method string) string {
	buf := make([]byte, s.Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform source is broken;
			// fall back to a position-dependent character rather than panic.
			buf[i] = alphabet[i%len(alphabet)]
			continue
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf)
}

// HashStrategy derives the identifier from a stable hash of the semantic
// name, truncated/padded to Length. Deterministic: independently built peers
// that run the same generation pass produce identical mappings. This is the
// default strategy.
type HashStrategy struct {
	Length int
}

func NewHashStrategy(length int) *HashStrategy {
	if length <= 0 {
		length = DefaultIDLength
	}
	return &HashStrategy{Length: length}
}

func (s *HashStrategy) Generate(service, method string) string {
	sum := sha256.Sum256([]byte(service + "." + method))
	buf := make([]byte, s.Length)
	for i := range buf {
		// Pad by cycling the digest if Length exceeds it.
		buf[i] = alphabet[int(sum[i%len(sum)])%len(alphabet)]
	}
	return string(buf)
}

// SequentialStrategy emits a fixed prefix plus a monotonic counter.
// Deterministic only within one generation run.
type SequentialStrategy struct {
	Prefix  string
	counter atomic.Uint64
}

func NewSequentialStrategy(prefix string) *SequentialStrategy {
	if prefix == "" {
		prefix = "m"
	}
	return &SequentialStrategy{Prefix: prefix}
}

func (s *SequentialStrategy) Generate(service, method string) string {
	return fmt.Sprintf("%s%d", s.Prefix, s.counter.Add(1))
}
