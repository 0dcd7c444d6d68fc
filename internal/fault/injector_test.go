package fault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Adityaakr/k-blackbox/internal/decimalfmt"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
)

func writeJournal(t *testing.T, frames []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.ndjson")
	rec, err := recorder.Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, rec.Append("BTC-USDT", []byte(f), ""))
	}
	require.NoError(t, rec.Close())
	return path
}

func drain(t *testing.T, inj *Injector) []recorder.Record {
	t.Helper()
	var out []recorder.Record
	for {
		rec, ok := inj.Next(context.Background())
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestInjector_Drop(t *testing.T) {
	path := writeJournal(t, []string{`{"i":0}`, `{"i":1}`, `{"i":2}`})
	replayer, err := recorder.LoadReplayer(path, recorder.AsFast())
	require.NoError(t, err)

	plan := NewPlan([]Mutation{{FrameIndex: 1, Kind: KindDrop}})
	inj := NewInjector(replayer, plan, nil, nil)

	got := drain(t, inj)
	require.Len(t, got, 2)
	assert.Equal(t, `{"i":0}`, got[0].RawFrame)
	assert.Equal(t, `{"i":2}`, got[1].RawFrame)
}

func TestInjector_SwapAdjacent(t *testing.T) {
	path := writeJournal(t, []string{`{"i":0}`, `{"i":1}`, `{"i":2}`})
	replayer, err := recorder.LoadReplayer(path, recorder.AsFast())
	require.NoError(t, err)

	plan := NewPlan([]Mutation{{FrameIndex: 0, Kind: KindSwapAdjacent}})
	inj := NewInjector(replayer, plan, nil, nil)

	got := drain(t, inj)
	require.Len(t, got, 3)
	assert.Equal(t, `{"i":1}`, got[0].RawFrame)
	assert.Equal(t, `{"i":0}`, got[1].RawFrame)
	assert.Equal(t, `{"i":2}`, got[2].RawFrame)
}

func TestInjector_PerturbQty(t *testing.T) {
	path := writeJournal(t, []string{`{"asks":[["100.00","1.00000000"]]}`})
	replayer, err := recorder.LoadReplayer(path, recorder.AsFast())
	require.NoError(t, err)

	increment, err := decimalfmt.Parse("0.00000001")
	require.NoError(t, err)

	plan := NewPlan([]Mutation{{FrameIndex: 0, Kind: KindPerturbQty, Delta: 1}})
	var injectedKind Kind
	inj := NewInjector(replayer, plan,
		func(symbol string) (decimalfmt.Decimal, bool) { return increment, true },
		func(idx int, kind Kind, symbol string) { injectedKind = kind })

	got := drain(t, inj)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].RawFrame, "1.00000001")
	assert.Equal(t, KindPerturbQty, injectedKind)
}

func TestInjector_EmptyPlanPassesThroughUnchanged(t *testing.T) {
	path := writeJournal(t, []string{`{"i":0}`, `{"i":1}`})
	replayer, err := recorder.LoadReplayer(path, recorder.AsFast())
	require.NoError(t, err)

	inj := NewInjector(replayer, NewPlan(nil), nil, nil)
	got := drain(t, inj)
	require.Len(t, got, 2)
	assert.Equal(t, `{"i":0}`, got[0].RawFrame)
	assert.Equal(t, `{"i":1}`, got[1].RawFrame)
}
