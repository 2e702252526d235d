package record

import (
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

// Domain prefixes for digests. The version suffix allows changing the
// algorithm without colliding with digests already recorded elsewhere.
const (
	DomainReplay = "logstore/replay/v1"
)

// Digest accumulates a domain-separated BLAKE3 hash over encoded lines.
// Two replays producing the same byte sequence produce the same digest.
//
// Format: BLAKE3(domain + 0x00 + line_1 + line_2 + ...)
type Digest struct {
	h     hash.Hash
	count int
}

// NewDigest starts a digest for the given domain.
func NewDigest(domain string) *Digest {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return &Digest{h: h}
}

// Add appends one record, encoded for stream, to the digest.
func (d *Digest) Add(stream Stream, r Record) error {
	line, err := EncodeLine(stream, r)
	if err != nil {
		return err
	}
	d.h.Write(line)
	d.count++
	return nil
}

// Count returns the number of records added.
func (d *Digest) Count() int { return d.count }

// Sum returns the hex-encoded digest.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
