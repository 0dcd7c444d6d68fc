package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adityaakr/k-blackbox/internal/domain"
)

func TestDecode_PingPong(t *testing.T) {
	env, err := Decode([]byte(`{"method":"ping"}`))
	require.NoError(t, err)
	pp, ok := env.(PingPong)
	require.True(t, ok)
	assert.Equal(t, "ping", pp.Method)
	assert.Equal(t, KindPingPong, env.Kind())
}

func TestDecode_Ack(t *testing.T) {
	env, err := Decode([]byte(`{"channel":"book","symbol":"BTC-USDT","success":true}`))
	require.NoError(t, err)
	ack, ok := env.(Ack)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", ack.Symbol)
}

func TestDecode_RateLimitExceeded(t *testing.T) {
	env, err := Decode([]byte(`{"event":"rate_limit_exceeded","retry_after_ms":60000}`))
	require.NoError(t, err)
	rl, ok := env.(RateLimitExceeded)
	require.True(t, ok)
	assert.Equal(t, int64(60000), rl.RetryAfterMs)
}

func TestDecode_InstrumentSnapshot(t *testing.T) {
	raw := `{"channel":"instruments","symbols":{"BTC-USDT":{"price_precision":2,"qty_precision":8,"price_increment":"0.01","qty_increment":"0.00000001","status":"trading"}}}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	snap, ok := env.(InstrumentSnapshot)
	require.True(t, ok)
	desc, ok := snap.Descriptors["BTC-USDT"]
	require.True(t, ok)
	assert.Equal(t, int32(2), desc.PricePrecision)
	assert.Equal(t, domain.StatusTrading, desc.Status)
}

func TestDecode_BookSnapshotAndUpdate(t *testing.T) {
	raw := `{"channel":"book","type":"snapshot","symbol":"BTC-USDT","bids":[["34.55","0.3"]],"asks":[["34.56","0.1"]],"digest":12345}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	snap, ok := env.(BookSnapshot)
	require.True(t, ok)
	require.Len(t, snap.Bids, 1)
	require.NotNil(t, snap.Digest)
	assert.Equal(t, uint32(12345), *snap.Digest)

	raw = `{"channel":"book","type":"update","symbol":"BTC-USDT","bids":[],"asks":[["34.56","0"]],"seq":42}`
	env, err = Decode([]byte(raw))
	require.NoError(t, err)
	upd, ok := env.(BookUpdate)
	require.True(t, ok)
	require.NotNil(t, upd.Seq)
	assert.Equal(t, int64(42), *upd.Seq)
	assert.Nil(t, upd.Digest)
}

func TestDecode_UnknownFrameNeverDropped(t *testing.T) {
	raw := `{"channel":"some_new_channel","weird":true}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindUnknownFrame, env.Kind())
	uf, ok := env.(UnknownFrame)
	require.True(t, ok)
	assert.Equal(t, raw, uf.Raw)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	var mf *MalformedFrame
	assert.ErrorAs(t, err, &mf)
}

func TestDecode_FieldMissing(t *testing.T) {
	_, err := Decode([]byte(`{"channel":"status"}`))
	require.Error(t, err)
	var fm *FieldMissing
	require.ErrorAs(t, err, &fm)
	assert.Equal(t, "symbol", fm.Which)
}

func TestDecode_MalformedNumberInBookLevels(t *testing.T) {
	raw := `{"channel":"book","type":"update","symbol":"BTC-USDT","bids":[["not-a-number","1"]],"asks":[]}`
	_, err := Decode([]byte(raw))
	require.Error(t, err)
}

func TestSeqTracker_DetectsGap(t *testing.T) {
	tr := NewSeqTracker()
	assert.False(t, tr.Observe("BTC-USDT", 1))
	assert.False(t, tr.Observe("BTC-USDT", 2))
	assert.True(t, tr.Observe("BTC-USDT", 5))
	tr.Reset("BTC-USDT")
	assert.False(t, tr.Observe("BTC-USDT", 100))
}
