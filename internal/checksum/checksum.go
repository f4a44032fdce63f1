// Package checksum provides the content hash algorithms used to address
// records. The algorithm is chosen per repository and recorded in its config.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"lukechampine.com/blake3"
)

// Algorithm names accepted in repository config.
const (
	Blake3 = "blake3"
	SHA256 = "sha256"
)

// Hasher produces streaming hash states for one algorithm.
type Hasher interface {
	// Name returns the config identifier of the algorithm.
	Name() string
	// Size returns the digest length in bytes.
	Size() int
	// New returns a fresh hash state.
	New() hash.Hash
}

// ForName returns the Hasher for a config algorithm name.
func ForName(name string) (Hasher, error) {
	switch name {
	case Blake3:
		return blake3Hasher{}, nil
	case SHA256:
		return sha256Hasher{}, nil
	default:
		return nil, fmt.Errorf("checksum: unknown hash algorithm %q", name)
	}
}

// Sum is a convenience for hashing a single buffer.
func Sum(h Hasher, data []byte) []byte {
	st := h.New()
	st.Write(data)
	return st.Sum(nil)
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string   { return Blake3 }
func (blake3Hasher) Size() int      { return 32 }
func (blake3Hasher) New() hash.Hash { return blake3.New(32, nil) }

type sha256Hasher struct{}

func (sha256Hasher) Name() string   { return SHA256 }
func (sha256Hasher) Size() int      { return sha256.Size }
func (sha256Hasher) New() hash.Hash { return sha256.New() }
