package wire

import "sync"

// SeqTracker validates that each symbol's BookUpdate.Seq, when present,
// increases strictly monotonically. A gap is treated like a digest mismatch
// by the transport: it triggers a resync for that symbol, not a connection
// drop.
type SeqTracker struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewSeqTracker returns an empty tracker.
func NewSeqTracker() *SeqTracker {
	return &SeqTracker{last: make(map[string]int64)}
}

// Observe records seq for symbol and reports whether it is a gap (i.e. not
// exactly one greater than the previously observed sequence for that
// symbol). The first sequence observed for a symbol is never a gap.
func (t *SeqTracker) Observe(symbol string, seq int64) (gap bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.last[symbol]
	t.last[symbol] = seq
	if !ok {
		return false
	}
	return seq != prev+1
}

// Reset clears the remembered sequence for symbol, used after a resync
// establishes a fresh baseline.
func (t *SeqTracker) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, symbol)
}
