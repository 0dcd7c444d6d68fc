package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTracker_DigestCountersAndStatus(t *testing.T) {
	tr := NewSymbolTracker("BTC-USDT", time.Second)
	now := time.Now()

	tr.ObserveMessage(now)
	tr.ObserveDigest(true, 2*time.Millisecond, now)
	snap := tr.TakeSnapshot(now)
	assert.Equal(t, StatusOk, snap.Status)
	assert.Equal(t, uint64(1), snap.Counters.DigestOK)

	tr.ObserveDigest(false, time.Millisecond, now)
	snap = tr.TakeSnapshot(now)
	assert.Equal(t, StatusWarn, snap.Status)
	assert.Equal(t, uint64(1), snap.Counters.ConsecutiveFails)

	tr.ObserveDigest(false, time.Millisecond, now)
	tr.ObserveDigest(false, time.Millisecond, now)
	snap = tr.TakeSnapshot(now)
	assert.Equal(t, StatusFail, snap.Status)
	assert.Equal(t, uint64(3), snap.Counters.ConsecutiveFails)

	// Invariant 6: digest_ok + digest_fail == frames-with-digest processed.
	assert.Equal(t, uint64(4), snap.Counters.DigestOK+snap.Counters.DigestFail)

	tr.ObserveDigest(true, time.Millisecond, now)
	snap = tr.TakeSnapshot(now)
	assert.Equal(t, uint64(0), snap.Counters.ConsecutiveFails)
	assert.Equal(t, StatusOk, snap.Status)
}

func TestSymbolTracker_LateMessageIsWarn(t *testing.T) {
	tr := NewSymbolTracker("BTC-USDT", time.Millisecond)
	past := time.Now().Add(-time.Hour)
	tr.ObserveMessage(past)
	snap := tr.TakeSnapshot(time.Now())
	assert.Equal(t, StatusWarn, snap.Status)
}

func TestLatencyRing_StatsOverWindow(t *testing.T) {
	r := &latencyRing{}
	for i := 1; i <= 100; i++ {
		r.record(time.Duration(i) * time.Millisecond)
	}
	last, avg, p95 := r.stats()
	assert.Equal(t, 100*time.Millisecond, last)
	assert.InDelta(t, 50.5, avg.Seconds()*1000, 1)
	assert.GreaterOrEqual(t, p95, 90*time.Millisecond)
}

func TestRegistry_OverallIsWorstOfPerSymbol(t *testing.T) {
	reg := NewRegistry(64)
	good := reg.Track("BTC-USDT", time.Second)
	bad := reg.Track("ETH-USDT", time.Second)

	now := time.Now()
	good.ObserveMessage(now)
	good.ObserveDigest(true, time.Millisecond, now)

	bad.ObserveMessage(now)
	for i := 0; i < 3; i++ {
		bad.ObserveDigest(false, time.Millisecond, now)
	}

	overall := reg.Overall()
	assert.Equal(t, StatusFail, overall.Status)
	assert.Len(t, overall.PerSymbol, 2)
}

func TestEventLog_BoundedFIFO(t *testing.T) {
	log := NewEventLog(3)
	for i := 0; i < 5; i++ {
		log.Push(EventDigestMismatch, "BTC-USDT", "mismatch")
	}
	tail := log.Tail(0)
	require.Len(t, tail, 3)
	for _, ev := range tail {
		assert.Equal(t, EventDigestMismatch, ev.Kind)
	}
}

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.MsgsTotal.WithLabelValues("BTC-USDT").Inc()
	m.VerifyLatency.WithLabelValues("BTC-USDT").Observe(0.001)
}
