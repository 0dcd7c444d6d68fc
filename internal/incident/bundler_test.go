package incident

import (
	"archive/zip"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Adityaakr/k-blackbox/internal/checksum"
	"github.com/Adityaakr/k-blackbox/internal/domain"
	"github.com/Adityaakr/k-blackbox/internal/health"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
)

func TestBundler_ExportWritesAllSevenFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := New(filepath.Join(dir, "incidents"), zaptest.NewLogger(t))
	require.NoError(t, err)

	path, err := b.Export(Input{
		Reason: ReasonDigestMismatch,
		Symbol: "BTC-USDT",
		Config: Config{Symbols: []string{"BTC-USDT"}, Depth: 10},
		Health: health.OverallHealth{Status: health.StatusFail},
		Frames: []recorder.Record{{RawFrame: `{"a":1}`}},
		Book:   NewOrderbookSnapshot("BTC-USDT", nil, nil),
		Checksum: checksum.Result{
			Computed: 1, Expected: 2, PreimagePrefix: "abc",
		},
		Instrument: domain.Descriptor{Symbol: "BTC-USDT", PricePrecision: 2, QtyPrecision: 8},
	})
	require.NoError(t, err)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	want := map[string]bool{
		"metadata.json": false, "config.json": false, "health.json": false,
		"frames.ndjson": false, "orderbook.json": false, "checksums.json": false,
		"instrument.json": false,
	}
	for _, f := range zr.File {
		want[f.Name] = true
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.NotEmpty(t, content)
	}
	for name, seen := range want {
		assert.True(t, seen, "missing archive entry %s", name)
	}
}

func TestBundler_RecentIndexTracksExports(t *testing.T) {
	dir := t.TempDir()
	b, err := New(filepath.Join(dir, "incidents"), zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := b.Export(Input{Reason: ReasonManualRequest, Symbol: "ETH-USDT"})
		require.NoError(t, err)
	}
	recent := b.Recent(2)
	assert.Len(t, recent, 2)
}
