package recorder

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JournalIoError wraps a failure writing to the journal file. Per spec.md
// §7, it surfaces as an event and disables further recording for the
// session, it never aborts live processing.
type JournalIoError struct {
	Err error
}

func (e *JournalIoError) Error() string { return fmt.Sprintf("journal io error: %v", e.Err) }
func (e *JournalIoError) Unwrap() error { return e.Err }

const idleFlushInterval = 2 * time.Second

// Recorder is the append-only journal writer for one recording session.
// Writes are buffered but flushed on idle and on Close; a bounded in-memory
// ring of recent frames per symbol is kept alongside so incident bundles
// never need to seek back into the file.
type Recorder struct {
	logger *zap.Logger

	mu       sync.Mutex
	file     *os.File
	w        *bufio.Writer
	disabled bool
	dirty    bool

	ring *ringSet

	stopFlusher chan struct{}
	flusherDone chan struct{}
}

// Open creates (or truncates) the journal file at path and starts the
// idle-flush loop, using defaultRingCapacity for the per-symbol incident
// window ring.
func Open(path string, logger *zap.Logger) (*Recorder, error) {
	return OpenWithRingCapacity(path, logger, defaultRingCapacity)
}

// OpenWithRingCapacity is Open with the per-symbol ring capacity exposed, so
// config.Config.ReplayRingSize can size the incident-window lookback.
func OpenWithRingCapacity(path string, logger *zap.Logger, ringCapacity int) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &JournalIoError{Err: err}
	}
	if ringCapacity <= 0 {
		ringCapacity = defaultRingCapacity
	}
	r := &Recorder{
		logger:      logger,
		file:        f,
		w:           bufio.NewWriter(f),
		ring:        newRingSet(ringCapacity),
		stopFlusher: make(chan struct{}),
		flusherDone: make(chan struct{}),
	}
	go r.idleFlushLoop()
	return r, nil
}

func (r *Recorder) idleFlushLoop() {
	defer close(r.flusherDone)
	ticker := time.NewTicker(idleFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopFlusher:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.dirty && !r.disabled {
				if err := r.w.Flush(); err != nil {
					r.logger.Error("journal flush failed", zap.Error(err))
					r.disabled = true
				} else {
					r.dirty = false
				}
			}
			r.mu.Unlock()
		}
	}
}

// Append writes one frame to the journal and the in-memory ring. Once a
// write fails, recording is disabled for the rest of the session per
// spec.md §7 (JournalIoError); the caller still keeps processing live data.
func (r *Recorder) Append(symbol string, raw []byte, decodedEvent string) error {
	rec := Record{Ts: time.Now().UTC(), RawFrame: string(raw), DecodedEvent: decodedEvent, Symbol: symbol}
	r.ring.push(symbol, rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return nil
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	if _, err := r.w.Write(line); err != nil {
		r.disabled = true
		r.logger.Error("disabling recorder after write failure", zap.Error(err))
		return &JournalIoError{Err: err}
	}
	r.dirty = true
	return nil
}

// Window returns the frames recorded for symbol within [from, to], read
// from the in-memory ring rather than the file.
func (r *Recorder) Window(symbol string, from, to time.Time) []Record {
	return r.ring.window(symbol, from, to)
}

// Flush forces the buffered writer out to the underlying file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		return &JournalIoError{Err: err}
	}
	r.dirty = false
	return nil
}

// Close flushes and closes the journal file, stopping the idle-flush loop.
// Close does not truncate the file; an existing file at the journal path is
// truncated when Open/OpenWithRingCapacity starts a session.
func (r *Recorder) Close() error {
	close(r.stopFlusher)
	<-r.flusherDone
	if err := r.Flush(); err != nil {
		_ = r.file.Close()
		return err
	}
	return r.file.Close()
}
