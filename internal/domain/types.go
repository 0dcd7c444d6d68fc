// Package domain holds the value types shared across the integrity pipeline:
// price levels and the per-symbol instrument descriptor. Keeping them in one
// leaf package lets the book, decoder, checksum and health packages depend on
// a common vocabulary without importing each other.
package domain

import "github.com/Adityaakr/k-blackbox/internal/decimalfmt"

// Side identifies which ladder of a depth book a level belongs to.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// Level is a single (price, quantity) pair. A stored Level always has a
// strictly positive quantity; quantity == 0 in the wire delta stream is a
// deletion marker and never materializes as a Level.
type Level struct {
	Price decimalfmt.Decimal
	Qty   decimalfmt.Decimal
}

// TradingStatus mirrors the exchange's per-instrument trading state. A
// halted symbol legitimately stops producing book updates; the pipeline
// consults it to skip the forced reconnect on repeated digest mismatches
// for a halted symbol. The health tracker's staleness check does not
// consult it.
type TradingStatus int

const (
	StatusUnknown TradingStatus = iota
	StatusTrading
	StatusHalted
	StatusPreOpen
)

func ParseTradingStatus(s string) TradingStatus {
	switch s {
	case "trading", "TRADING":
		return StatusTrading
	case "halt", "halted", "HALT":
		return StatusHalted
	case "pre_open", "preopen", "PRE_OPEN":
		return StatusPreOpen
	default:
		return StatusUnknown
	}
}

func (s TradingStatus) String() string {
	switch s {
	case StatusTrading:
		return "trading"
	case StatusHalted:
		return "halted"
	case StatusPreOpen:
		return "pre_open"
	default:
		return "unknown"
	}
}

// Descriptor carries the precision and increment metadata needed to
// reconstruct the exchange's canonical digest preimage for one symbol. It is
// populated once from the instrument snapshot and never mutated afterwards.
type Descriptor struct {
	Symbol         string
	PricePrecision int32
	QtyPrecision   int32
	PriceIncrement decimalfmt.Decimal
	QtyIncrement   decimalfmt.Decimal
	Status         TradingStatus
}
