package storage

import (
	"golang.org/x/crypto/blake2b"

	"github.com/latticegraph/lattice/pkg/element"
)

// Blake2bChecksum is the default Checksum implementation, producing an
// element.ChecksumLen-byte (32-byte) BLAKE2b-256 digest.
type Blake2bChecksum struct{}

// Calculate returns the BLAKE2b-256 digest of stream.
func (Blake2bChecksum) Calculate(stream []byte) ([element.ChecksumLen]byte, error) {
	return blake2b.Sum256(stream), nil
}
