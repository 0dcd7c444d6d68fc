package orderbook

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/Adityaakr/k-blackbox/internal/decimalfmt"
	"github.com/Adityaakr/k-blackbox/internal/domain"
)

func lvl(t *testing.T, price, qty string) domain.Level {
	t.Helper()
	p, err := decimalfmt.Parse(price)
	require.NoError(t, err)
	q, err := decimalfmt.Parse(qty)
	require.NoError(t, err)
	return domain.Level{Price: p, Qty: q}
}

type BookTestSuite struct {
	suite.Suite
	book *Book
}

func (s *BookTestSuite) SetupTest() {
	s.book = New("BTC-USDT", 10)
}

func TestBookSuite(t *testing.T) {
	suite.Run(t, new(BookTestSuite))
}

// S2, delta zero-quantity deletion.
func (s *BookTestSuite) TestDeltaZeroQuantityDeletion() {
	t := s.T()
	s.book.ApplySnapshot(nil, []domain.Level{lvl(t, "100.0", "1"), lvl(t, "101.0", "2")})

	s.book.ApplyUpdate(nil, []domain.Level{lvl(t, "101.0", "0")})

	asks := s.book.TopNAsks(0)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Price.Equal(mustDecimal(t, "100.0")))

	best, ok := s.book.BestAsk()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(mustDecimal(t, "100.0")))
}

// S3, crossing rejection: a delta that would transiently cross is applied
// atomically, then exposed already truncated/consistent.
func (s *BookTestSuite) TestCrossingDeltaAppliedAtomically() {
	t := s.T()
	s.book.ApplySnapshot(
		[]domain.Level{lvl(t, "99", "1")},
		[]domain.Level{lvl(t, "100", "1")},
	)

	s.book.ApplyUpdate(
		[]domain.Level{lvl(t, "100.5", "1")},
		[]domain.Level{lvl(t, "99.5", "1")},
	)

	bestBid, ok := s.book.BestBid()
	require.True(t, ok)
	bestAsk, ok := s.book.BestAsk()
	require.True(t, ok)
	assert.True(t, bestAsk.Price.GreaterThan(bestBid.Price),
		"crossing invariant must hold in the exposed view: best ask %s should exceed best bid %s",
		bestAsk.Price, bestBid.Price)
}

// Invariant 1, after any ApplyUpdate+truncate: size bound, no zero-qty
// levels, crossing invariant.
func (s *BookTestSuite) TestTruncationBound() {
	t := s.T()
	s.book = New("BTC-USDT", 3)
	var asks []domain.Level
	for i := 0; i < 10; i++ {
		asks = append(asks, lvl(t, decimalFromInt(100+i), "1"))
	}
	s.book.ApplySnapshot(nil, asks)

	got := s.book.TopNAsks(0)
	require.Len(t, got, 3)
	assert.True(t, got[0].Price.Equal(mustDecimal(t, "100")))
	assert.True(t, got[1].Price.Equal(mustDecimal(t, "101")))
	assert.True(t, got[2].Price.Equal(mustDecimal(t, "102")))
}

func (s *BookTestSuite) TestApplySnapshotPreFiltersZeroQuantity() {
	t := s.T()
	s.book.ApplySnapshot(
		[]domain.Level{lvl(t, "99", "1"), lvl(t, "98", "0")},
		nil,
	)
	bids, _ := s.book.Len()
	assert.Equal(t, 1, bids)
}

func mustDecimal(t *testing.T, s string) decimalfmt.Decimal {
	t.Helper()
	d, err := decimalfmt.Parse(s)
	require.NoError(t, err)
	return d
}

func decimalFromInt(n int) string {
	return strconv.Itoa(n)
}
