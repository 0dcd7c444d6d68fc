// Package wire decodes the exchange's text JSON wire frames into a typed
// Envelope. The decoder is pure and stateless: same bytes in, same Envelope
// (or error) out, which is what lets live traffic and replayed journals
// share every line of downstream code.
package wire

import (
	"fmt"

	"github.com/Adityaakr/k-blackbox/internal/domain"
)

// Kind discriminates the Envelope union without a type switch at every call
// site.
type Kind int

const (
	KindAck Kind = iota
	KindStatus
	KindHeartbeat
	KindPingPong
	KindInstrumentSnapshot
	KindBookSnapshot
	KindBookUpdate
	KindRateLimitExceeded
	KindUnknownFrame
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindStatus:
		return "status"
	case KindHeartbeat:
		return "heartbeat"
	case KindPingPong:
		return "ping_pong"
	case KindInstrumentSnapshot:
		return "instrument_snapshot"
	case KindBookSnapshot:
		return "book_snapshot"
	case KindBookUpdate:
		return "book_update"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	default:
		return "unknown_frame"
	}
}

// Envelope is the decoded form of one wire frame. Every concrete type below
// implements it through its exported Kind method; Decode only ever returns
// these types.
type Envelope interface {
	Kind() Kind
}

// Ack is a subscription acknowledgement.
type Ack struct {
	Channel string
	Symbol  string
}

func (Ack) Kind() Kind { return KindAck }

// Status carries a per-symbol trading-status change.
type Status struct {
	Symbol string
	Status domain.TradingStatus
}

func (Status) Kind() Kind { return KindStatus }

// Heartbeat is a keepalive frame carrying no book data.
type Heartbeat struct {
	RawTime string
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// PingPong is an application-level ping or pong control frame.
type PingPong struct {
	Method string // "ping" or "pong"
}

func (PingPong) Kind() Kind { return KindPingPong }

// InstrumentSnapshot carries the full per-symbol descriptor map that must
// precede the first book subscription for each symbol it names.
type InstrumentSnapshot struct {
	Descriptors map[string]domain.Descriptor
}

func (InstrumentSnapshot) Kind() Kind { return KindInstrumentSnapshot }

// BookSnapshot is a full-state replacement for one symbol's book.
type BookSnapshot struct {
	Symbol string
	Bids   []domain.Level
	Asks   []domain.Level
	Digest *uint32
}

func (BookSnapshot) Kind() Kind { return KindBookSnapshot }

// BookUpdate is an incremental delta for one symbol's book.
type BookUpdate struct {
	Symbol string
	Bids   []domain.Level
	Asks   []domain.Level
	Digest *uint32
	Seq    *int64
}

func (BookUpdate) Kind() Kind { return KindBookUpdate }

// RateLimitExceeded signals the exchange has throttled this connection.
type RateLimitExceeded struct {
	RetryAfterMs int64
}

func (RateLimitExceeded) Kind() Kind { return KindRateLimitExceeded }

// UnknownFrame preserves a frame the decoder could not classify. It is
// never dropped: the recorder still captures it and the pipeline still
// pushes an event for it to the health event log.
type UnknownFrame struct {
	Raw string
}

func (UnknownFrame) Kind() Kind { return KindUnknownFrame }

// MalformedFrame wraps a JSON-unmarshal failure.
type MalformedFrame struct {
	Err error
}

func (e *MalformedFrame) Error() string { return fmt.Sprintf("malformed frame: %v", e.Err) }
func (e *MalformedFrame) Unwrap() error { return e.Err }

// FieldMissing signals a required field absent from an otherwise
// well-formed frame.
type FieldMissing struct {
	Which string
}

func (e *FieldMissing) Error() string { return fmt.Sprintf("field missing: %s", e.Which) }
