package loader

import (
	"encoding/hex"

	"blainsmith.com/go/seahash"
	farm "github.com/dgryski/go-farm"
)

// contentHash returns the hex FarmHash64 of content, used as source.content_hash
// (spec.md §3's Source entity, §9's idempotency comparison). FarmHash is the
// teacher's own choice for exactly this role (see fusion/kmer_index.go).
func contentHash(content []byte) string {
	sum := farm.Hash64(content)
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(sum >> (8 * uint(i)))
	}
	return hex.EncodeToString(buf[:])
}

// segmentChecksum returns a seahash checksum over an encoded segment
// payload, logged at debug level for every segment the loader writes
// (supplementing spec.md; grounded on
// cmd/bio-pamtool/checksum.go's per-field accumulator, generalized to one
// segment at a time).
func segmentChecksum(payload []byte) uint64 {
	h := seahash.New()
	h.Write(payload) //nolint:errcheck // hash.Hash.Write never errors
	return h.Sum64()
}
