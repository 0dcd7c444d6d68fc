package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecorder_AppendAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.ndjson")
	rec, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, rec.Append("BTC-USDT", []byte(`{"channel":"book"}`), "book_update"))
	require.NoError(t, rec.Flush())
	require.NoError(t, rec.Close())

	replayer, err := LoadReplayer(path, AsFast())
	require.NoError(t, err)
	assert.Equal(t, 1, replayer.Len())

	got, ok := replayer.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", got.Symbol)
}

func TestRecorder_WindowReturnsRingBufferedFrames(t *testing.T) {
	dir := t.TempDir()
	rec, err := Open(filepath.Join(dir, "s.ndjson"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rec.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	}
	window := rec.Window("BTC-USDT", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	assert.Len(t, window, 5)
}

func TestReplayer_AsFastDoesNotWait(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.ndjson")
	rec, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	require.NoError(t, rec.Close())

	replayer, err := LoadReplayer(path, AsFast())
	require.NoError(t, err)

	start := time.Now()
	for {
		_, ok := replayer.Next(context.Background())
		if !ok {
			break
		}
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestReplayer_RealtimeHonorsIntervals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.ndjson")
	rec, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	require.NoError(t, rec.Close())

	replayer, err := LoadReplayer(path, Realtime())
	require.NoError(t, err)

	start := time.Now()
	replayer.Next(context.Background())
	replayer.Next(context.Background())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReplayer_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.ndjson")
	rec, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	time.Sleep(time.Second)
	require.NoError(t, rec.Append("BTC-USDT", []byte(`{}`), ""))
	require.NoError(t, rec.Close())

	replayer, err := LoadReplayer(path, Realtime())
	require.NoError(t, err)
	replayer.Next(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := replayer.Next(ctx)
	assert.False(t, ok)
}
