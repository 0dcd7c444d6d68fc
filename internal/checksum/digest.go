// Package checksum reconstructs the exchange's CRC32 digest over a book's
// top-of-depth and compares it against the digest the exchange attaches to
// every update.
package checksum

import (
	"hash/crc32"
	"strings"
	"time"

	"github.com/Adityaakr/k-blackbox/internal/decimalfmt"
	"github.com/Adityaakr/k-blackbox/internal/domain"
)

// DigestDepth is the number of levels per side folded into the preimage,
// independent of the book's own retained Depth (which may be larger, e.g.
// 25 or 100, to serve book_slice views).
const DigestDepth = 10

// preimagePrefixLen is how much of the preimage an incident bundle keeps
// for diagnostics.
const preimagePrefixLen = 128

// BookView is the minimal read surface the reconstructor needs; satisfied by
// *orderbook.Book without importing it here, keeping this package a leaf.
type BookView interface {
	TopNAsks(n int) []domain.Level
	TopNBids(n int) []domain.Level
}

// Result is the outcome of one verification: the computed digest, whether it
// matched the exchange's declared value, a truncated preimage for incident
// diagnostics, and the wall-clock time the reconstruction took.
type Result struct {
	OK             bool
	Computed       uint32
	Expected       uint32
	PreimagePrefix string
	Elapsed        time.Duration
}

// Preimage builds the canonical byte sequence: the DigestDepth lowest-price
// asks ascending, then the DigestDepth highest-price bids descending, each
// level encoded as FormatFixed(price) || FormatFixed(qty) with no
// separators. If a side has fewer than DigestDepth levels, all available
// levels on that side are used, this client uses-what's-available on thin
// books rather than padding, per the pinned policy in spec.md §4.3/§9.
func Preimage(book BookView, desc domain.Descriptor) string {
	var sb strings.Builder
	for _, lvl := range book.TopNAsks(DigestDepth) {
		sb.WriteString(decimalfmt.FormatFixed(lvl.Price, desc.PricePrecision))
		sb.WriteString(decimalfmt.FormatFixed(lvl.Qty, desc.QtyPrecision))
	}
	for _, lvl := range book.TopNBids(DigestDepth) {
		sb.WriteString(decimalfmt.FormatFixed(lvl.Price, desc.PricePrecision))
		sb.WriteString(decimalfmt.FormatFixed(lvl.Qty, desc.QtyPrecision))
	}
	return sb.String()
}

// Compute returns the IEEE-802.3 CRC32 (polynomial 0xEDB88320, reflected,
// init 0xFFFFFFFF, xor-out 0xFFFFFFFF, exactly hash/crc32's IEEE table) over
// the ASCII preimage.
func Compute(preimage string) uint32 {
	return crc32.ChecksumIEEE([]byte(preimage))
}

// Verify reconstructs the digest for book/desc and compares it to expected.
// Elapsed is recorded for the health tracker's latency ring regardless of
// outcome.
func Verify(book BookView, desc domain.Descriptor, expected uint32) Result {
	start := time.Now()
	preimage := Preimage(book, desc)
	computed := Compute(preimage)
	elapsed := time.Since(start)

	prefix := preimage
	if len(prefix) > preimagePrefixLen {
		prefix = prefix[:preimagePrefixLen]
	}

	return Result{
		OK:             computed == expected,
		Computed:       computed,
		Expected:       expected,
		PreimagePrefix: prefix,
		Elapsed:        elapsed,
	}
}
