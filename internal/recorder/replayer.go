package recorder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"
)

// Speed governs the pacing a Replayer uses between successive records.
type Speed struct {
	realtime bool
	asFast   bool
	factor   float64
}

// Realtime honors the original inter-arrival intervals exactly.
func Realtime() Speed { return Speed{realtime: true} }

// AsFast delivers every record with no waiting at all.
func AsFast() Speed { return Speed{asFast: true} }

// AtFactor multiplies the original inter-arrival intervals by 1/k. A
// non-positive k is treated as AsFast, per spec.md §4.6.
func AtFactor(k float64) Speed {
	if k <= 0 {
		return AsFast()
	}
	return Speed{factor: k}
}

func (s Speed) delay(prevTs, curTs time.Time) time.Duration {
	if s.asFast {
		return 0
	}
	d := curTs.Sub(prevTs)
	if d < 0 {
		d = 0
	}
	if s.realtime {
		return d
	}
	return time.Duration(float64(d) / s.factor)
}

// Replayer loads a journal file in full and hands records back one at a
// time, governed by Speed. Loading eagerly (rather than streaming) keeps
// replay deterministic and simple to reason about: journals are bounded by
// one recording session, not unbounded live traffic.
type Replayer struct {
	records []Record
	idx     int
	speed   Speed
}

// LoadReplayer reads every line of the journal at path into memory.
func LoadReplayer(path string, speed Speed) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := unmarshalLine(line)
		if err != nil {
			return nil, fmt.Errorf("parsing journal line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return &Replayer{records: records, speed: speed}, nil
}

// Len reports the total number of records loaded.
func (r *Replayer) Len() int { return len(r.records) }

// SpeedDelay exposes this replayer's pacing rule so a wrapper (the fault
// injector) can honor the same Speed when it reorders or drops records.
func (r *Replayer) SpeedDelay(prevTs, curTs time.Time) time.Duration {
	return r.speed.delay(prevTs, curTs)
}

// Peek returns the record at index i without consuming it, used by the
// fault injector to apply mutations by frame index.
func (r *Replayer) Peek(i int) (Record, bool) {
	if i < 0 || i >= len(r.records) {
		return Record{}, false
	}
	return r.records[i], true
}

// Next blocks for the pacing interval implied by Speed (none, under
// AsFast), then returns the next due record. It returns false once the
// journal is exhausted or ctx is canceled.
func (r *Replayer) Next(ctx context.Context) (Record, bool) {
	if r.idx >= len(r.records) {
		return Record{}, false
	}
	rec := r.records[r.idx]
	if r.idx > 0 {
		wait := r.speed.delay(r.records[r.idx-1].Ts, rec.Ts)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Record{}, false
			}
		}
	}
	r.idx++
	return rec, true
}
