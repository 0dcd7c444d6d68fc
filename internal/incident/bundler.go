// Package incident assembles the self-contained archive captured on digest
// divergence, on explicit request, or on a rate-limit escalation, so a
// mismatch can be replayed and diagnosed entirely offline.
package incident

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Adityaakr/k-blackbox/internal/checksum"
	"github.com/Adityaakr/k-blackbox/internal/domain"
	"github.com/Adityaakr/k-blackbox/internal/health"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
)

// Reason enumerates the triggers that can produce an incident bundle.
type Reason string

const (
	ReasonDigestMismatch    Reason = "digest_mismatch"
	ReasonManualRequest     Reason = "manual_request"
	ReasonRateLimitEscalate Reason = "rate_limit_escalation"
)

// IncidentExportError wraps a failure assembling or writing an archive. Per
// spec.md §7 it surfaces to the caller but never affects live processing.
type IncidentExportError struct {
	Err error
}

func (e *IncidentExportError) Error() string { return fmt.Sprintf("incident export failed: %v", e.Err) }
func (e *IncidentExportError) Unwrap() error { return e.Err }

// Metadata is metadata.json, the mandatory file every archive carries.
type Metadata struct {
	ID     string    `json:"id"`
	Ts     time.Time `json:"ts"`
	Reason Reason    `json:"reason"`
	Symbol string    `json:"symbol"`
}

// Config is config.json: the subset of runtime configuration relevant to
// reproducing the session.
type Config struct {
	Symbols     []string `json:"symbols"`
	Depth       int      `json:"depth"`
	ReplayFlags []string `json:"replay_flags,omitempty"`
}

// Checksums is checksums.json.
type Checksums struct {
	Expected       uint32 `json:"expected"`
	Computed       uint32 `json:"computed"`
	PreimagePrefix string `json:"preimage_prefix"`
}

// Input bundles everything the caller must supply to assemble one archive.
type Input struct {
	Reason     Reason
	Symbol     string
	Config     Config
	Health     health.OverallHealth
	Frames     []recorder.Record
	Book       orderbookSnapshot
	Checksum   checksum.Result
	Instrument domain.Descriptor
}

// orderbookSnapshot is the minimal shape incident needs from
// orderbook.Snapshot, declared locally so this leaf package doesn't import
// the orderbook package just for one struct.
type orderbookSnapshot struct {
	Symbol string         `json:"symbol"`
	Bids   []domain.Level `json:"bids"`
	Asks   []domain.Level `json:"asks"`
}

// NewOrderbookSnapshot adapts a book snapshot into the archive shape.
func NewOrderbookSnapshot(symbol string, bids, asks []domain.Level) orderbookSnapshot {
	return orderbookSnapshot{Symbol: symbol, Bids: bids, Asks: asks}
}

// Descriptor is the in-memory index entry the status surface pages through.
type Descriptor struct {
	Metadata
	Path string `json:"path"`
}

// Bundler writes incident archives under dir and keeps a bounded in-memory
// index of recently written ones.
type Bundler struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	recent []Descriptor
	nextID uint64
}

const maxRecentIndex = 200

// New returns a Bundler writing archives under dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*Bundler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IncidentExportError{Err: err}
	}
	return &Bundler{dir: dir, logger: logger}, nil
}

// Export assembles and atomically writes one incident archive, returning
// its path.
func (b *Bundler) Export(in Input) (string, error) {
	now := time.Now().UTC()
	id := b.newID(now)

	meta := Metadata{ID: id, Ts: now, Reason: in.Reason, Symbol: in.Symbol}
	filename := fmt.Sprintf("incident_%s_%s.zip", id, in.Reason)
	finalPath := filepath.Join(b.dir, filename)

	if err := writeArchiveAtomic(b.dir, finalPath, meta, in); err != nil {
		return "", &IncidentExportError{Err: err}
	}

	b.mu.Lock()
	b.recent = append(b.recent, Descriptor{Metadata: meta, Path: finalPath})
	if len(b.recent) > maxRecentIndex {
		b.recent = b.recent[len(b.recent)-maxRecentIndex:]
	}
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Info("incident captured", zap.String("id", id), zap.String("symbol", in.Symbol),
			zap.String("reason", string(in.Reason)), zap.String("path", finalPath))
	}
	return finalPath, nil
}

func (b *Bundler) newID(now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return fmt.Sprintf("%d-%04d", now.UnixNano(), b.nextID)
}

// Recent returns up to n most recently written incident descriptors, most
// recent last.
func (b *Bundler) Recent(n int) []Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Descriptor, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

func writeArchiveAtomic(dir, finalPath string, meta Metadata, in Input) error {
	tmp, err := os.CreateTemp(dir, "incident-*.zip.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath) // no-op once renamed
	}()

	zw := zip.NewWriter(tmp)

	// Fixed order so two replays of the same journal+fault-plan produce
	// byte-identical archives (modulo the ts fields); map iteration order
	// is randomized by Go and would otherwise reorder the zip's local-file
	// headers run to run.
	jsonEntries := []struct {
		name    string
		payload interface{}
	}{
		{"metadata.json", meta},
		{"config.json", in.Config},
		{"health.json", in.Health},
		{"orderbook.json", in.Book},
		{"checksums.json", Checksums{
			Expected:       in.Checksum.Expected,
			Computed:       in.Checksum.Computed,
			PreimagePrefix: in.Checksum.PreimagePrefix,
		}},
		{"instrument.json", in.Instrument},
	}

	for _, e := range jsonEntries {
		if err := writeJSONEntry(zw, e.name, e.payload); err != nil {
			zw.Close()
			return err
		}
	}
	if err := writeFramesEntry(zw, in.Frames); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

func writeJSONEntry(zw *zip.Writer, name string, payload interface{}) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writeFramesEntry(zw *zip.Writer, frames []recorder.Record) error {
	w, err := zw.Create("frames.ndjson")
	if err != nil {
		return err
	}
	for _, f := range frames {
		line, err := f.MarshalLine()
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
