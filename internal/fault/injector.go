package fault

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Adityaakr/k-blackbox/internal/decimalfmt"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
)

// QtyIncrementFunc resolves a symbol's quantity increment, needed to turn a
// PerturbQty delta into an absolute adjustment. The pipeline supplies this
// from the instrument descriptor cache, which by invariant is populated
// before any book frame for a symbol is processed.
type QtyIncrementFunc func(symbol string) (decimalfmt.Decimal, bool)

// OnInjected is called whenever a mutation actually altered the stream, so
// the caller can log a fault_injected event.
type OnInjected func(frameIndex int, kind Kind, symbol string)

// Injector wraps a *recorder.Replayer and applies a Plan's mutations before
// any record reaches the decoder, exactly as if the exchange itself had
// sent the altered stream (spec.md §4.9).
type Injector struct {
	replayer *recorder.Replayer
	plan     *Plan
	qtyInc   QtyIncrementFunc
	onInject OnInjected

	cursor int

	pending    bool
	pendingRec recorder.Record

	started        bool
	lastDeliveredTs time.Time
}

// NewInjector builds an injector over replayer governed by plan. qtyInc and
// onInject may be nil (PerturbQty then becomes a no-op and no callback
// fires).
func NewInjector(replayer *recorder.Replayer, plan *Plan, qtyInc QtyIncrementFunc, onInject OnInjected) *Injector {
	return &Injector{replayer: replayer, plan: plan, qtyInc: qtyInc, onInject: onInject}
}

// Next returns the next mutated record, or false once the underlying
// journal (as mutated) is exhausted or ctx is canceled. Pacing honors the
// replayer's configured Speed, measured against the last record actually
// delivered (which, under SwapAdjacent, is not necessarily in original
// journal order).
func (inj *Injector) Next(ctx context.Context) (recorder.Record, bool) {
	if inj.pending {
		rec := inj.pendingRec
		inj.pending = false
		return inj.deliver(ctx, rec)
	}

	for {
		if inj.cursor >= inj.replayer.Len() {
			return recorder.Record{}, false
		}
		idx := inj.cursor
		rec, ok := inj.replayer.Peek(idx)
		if !ok {
			return recorder.Record{}, false
		}
		inj.cursor++

		mut, planned := inj.plan.At(idx)
		if !planned {
			return inj.deliver(ctx, rec)
		}

		switch mut.Kind {
		case KindDrop:
			inj.notify(idx, mut.Kind, rec.Symbol)
			continue // skip this frame entirely, advance to the next

		case KindSwapAdjacent:
			next, ok := inj.replayer.Peek(idx + 1)
			if !ok {
				return inj.deliver(ctx, rec) // no following frame to swap with
			}
			inj.cursor++ // consumed idx+1 as well
			inj.pending = true
			inj.pendingRec = rec
			inj.notify(idx, mut.Kind, rec.Symbol)
			return inj.deliver(ctx, next)

		case KindPerturbQty:
			mutated, err := inj.perturbQty(rec, mut.Delta)
			if err == nil {
				rec = mutated
				inj.notify(idx, mut.Kind, rec.Symbol)
			}
			return inj.deliver(ctx, rec)

		default:
			return inj.deliver(ctx, rec)
		}
	}
}

// deliver paces rec against the last delivered record's timestamp using the
// replayer's Speed, then hands it back. Returns false only if ctx is
// canceled mid-wait.
func (inj *Injector) deliver(ctx context.Context, rec recorder.Record) (recorder.Record, bool) {
	if inj.started {
		wait := inj.replayer.SpeedDelay(inj.lastDeliveredTs, rec.Ts)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return recorder.Record{}, false
			}
		}
	}
	inj.started = true
	inj.lastDeliveredTs = rec.Ts
	return rec, true
}

func (inj *Injector) notify(frameIndex int, kind Kind, symbol string) {
	if inj.onInject != nil {
		inj.onInject(frameIndex, kind, symbol)
	}
}

// levelPair mirrors the wire [price_str, qty_str] shape without importing
// the wire package, keeping fault a leaf alongside recorder.
type levelPair [2]string

func (inj *Injector) perturbQty(rec recorder.Record, delta int) (recorder.Record, error) {
	if inj.qtyInc == nil {
		return rec, errNoIncrement
	}
	increment, ok := inj.qtyInc(rec.Symbol)
	if !ok {
		return rec, errNoIncrement
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rec.RawFrame), &obj); err != nil {
		return rec, err
	}

	for _, key := range []string{"asks", "bids"} {
		raw, present := obj[key]
		if !present {
			continue
		}
		var levels []levelPair
		if err := json.Unmarshal(raw, &levels); err != nil {
			continue
		}
		if len(levels) == 0 {
			continue
		}
		qty, err := decimalfmt.Parse(levels[0][1])
		if err != nil {
			return rec, err
		}
		adjusted := qty.Add(increment.Mul(decimal.NewFromInt(int64(delta))))
		levels[0][1] = adjusted.String()

		newRaw, err := json.Marshal(levels)
		if err != nil {
			return rec, err
		}
		obj[key] = newRaw

		out, err := json.Marshal(obj)
		if err != nil {
			return rec, err
		}
		rec.RawFrame = string(out)
		return rec, nil
	}
	return rec, errNoLevels
}
