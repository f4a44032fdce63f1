package repo

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/hashenc"
)

// ConfigFile is the name of the repository config inside the root.
const ConfigFile = "config.yml"

// Version is the repository format version this build reads and writes.
const Version = 1

// Config is the per-repository configuration stored in config.yml. It fixes
// how record names are derived: the hash algorithm, the name encoding, and
// whether enumeration verifies record content against its name by default.
type Config struct {
	Version        int    `yaml:"version"`
	Hash           string `yaml:"hash"`
	Encoding       string `yaml:"encoding"`
	IntegrityCheck bool   `yaml:"integrity_check"`
}

// Validate validates the repository configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Version, validation.Required, validation.In(Version)),
		validation.Field(&c.Hash, validation.Required, validation.In(checksum.Blake3, checksum.SHA256)),
		validation.Field(&c.Encoding, validation.Required, validation.In(hashenc.Hex, hashenc.Base32)),
	)
}

// DefaultConfig returns the configuration written by Init when the caller
// does not override it.
func DefaultConfig() Config {
	return Config{
		Version:        Version,
		Hash:           checksum.Blake3,
		Encoding:       hashenc.Hex,
		IntegrityCheck: true,
	}
}
