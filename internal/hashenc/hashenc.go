// Package hashenc renders content-address digests as directory entry names
// and parses them back. The encoding is chosen per repository and recorded in
// its config; record discovery depends on names round-tripping through it.
package hashenc

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding names accepted in repository config.
const (
	Hex    = "hex"
	Base32 = "base32"
)

// Encoding converts digests to entry names and back.
type Encoding interface {
	// Name returns the config identifier of the encoding.
	Name() string
	// Encode renders a digest as an entry name.
	Encode(digest []byte) string
	// Decode parses an entry name back into a digest. Names that are not
	// valid under the encoding return an error.
	Decode(name string) ([]byte, error)
}

// ForName returns the Encoding for a config encoding name.
func ForName(name string) (Encoding, error) {
	switch name {
	case Hex:
		return hexEncoding{}, nil
	case Base32:
		return base32Encoding{}, nil
	default:
		return nil, fmt.Errorf("hashenc: unknown encoding %q", name)
	}
}

type hexEncoding struct{}

func (hexEncoding) Name() string { return Hex }

func (hexEncoding) Encode(digest []byte) string {
	return hex.EncodeToString(digest)
}

func (hexEncoding) Decode(name string) ([]byte, error) {
	digest, err := hex.DecodeString(name)
	if err != nil {
		return nil, fmt.Errorf("hashenc: decode %q: %w", name, err)
	}
	return digest, nil
}

// base32Encoding uses the extended hex alphabet without padding, lowercased,
// so encoded names sort in the same order as the digests they represent.
type base32Encoding struct{}

var b32 = base32.HexEncoding.WithPadding(base32.NoPadding)

func (base32Encoding) Name() string { return Base32 }

func (base32Encoding) Encode(digest []byte) string {
	return strings.ToLower(b32.EncodeToString(digest))
}

func (base32Encoding) Decode(name string) ([]byte, error) {
	digest, err := b32.DecodeString(strings.ToUpper(name))
	if err != nil {
		return nil, fmt.Errorf("hashenc: decode %q: %w", name, err)
	}
	return digest, nil
}
