package wire

import (
	"encoding/json"

	"github.com/Adityaakr/k-blackbox/internal/decimalfmt"
	"github.com/Adityaakr/k-blackbox/internal/domain"
)

// rawFrame is the union of every field any frame type may carry. Decoding
// into one permissive struct first, then dispatching on which fields are
// present, mirrors how the exchange itself multiplexes message types onto a
// single channel.
type rawFrame struct {
	Method  string                     `json:"method,omitempty"`
	Success *bool                      `json:"success,omitempty"`
	Event   string                     `json:"event,omitempty"`
	Channel string                     `json:"channel,omitempty"`
	Type    string                     `json:"type,omitempty"`
	Symbol  string                     `json:"symbol,omitempty"`
	Status  string                     `json:"status,omitempty"`
	Time    string                     `json:"time,omitempty"`
	Symbols map[string]instrumentWire `json:"symbols,omitempty"`

	Bids   [][2]string `json:"bids,omitempty"`
	Asks   [][2]string `json:"asks,omitempty"`
	Digest *uint32     `json:"digest,omitempty"`
	Seq    *int64      `json:"seq,omitempty"`

	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

type instrumentWire struct {
	PricePrecision int32  `json:"price_precision"`
	QtyPrecision   int32  `json:"qty_precision"`
	PriceIncrement string `json:"price_increment"`
	QtyIncrement   string `json:"qty_increment"`
	Status         string `json:"status,omitempty"`
}

// Decode parses one text wire frame into its typed Envelope. It never
// panics: malformed JSON, a missing required field, or an unparseable
// numeric yields a typed error instead, and an unrecognized-but-well-formed
// frame becomes UnknownFrame rather than being dropped.
//
// Dispatch order follows spec.md §4.4: control frames by method, then
// subscription acknowledgements by the presence of the ack key, then
// channel-typed frames by the channel field (book frames further split on
// type).
func Decode(raw []byte) (Envelope, error) {
	var f rawFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &MalformedFrame{Err: err}
	}

	switch {
	case f.Method == "ping" || f.Method == "pong":
		return PingPong{Method: f.Method}, nil

	case f.Success != nil:
		return Ack{Channel: f.Channel, Symbol: f.Symbol}, nil

	case f.Event == "rate_limit_exceeded":
		return RateLimitExceeded{RetryAfterMs: f.RetryAfterMs}, nil

	case f.Channel == "heartbeat":
		return Heartbeat{RawTime: f.Time}, nil

	case f.Channel == "status":
		if f.Symbol == "" {
			return nil, &FieldMissing{Which: "symbol"}
		}
		return Status{Symbol: f.Symbol, Status: domain.ParseTradingStatus(f.Status)}, nil

	case f.Channel == "instruments":
		descs, err := decodeInstruments(f.Symbols)
		if err != nil {
			return nil, err
		}
		return InstrumentSnapshot{Descriptors: descs}, nil

	case f.Channel == "book":
		if f.Symbol == "" {
			return nil, &FieldMissing{Which: "symbol"}
		}
		bids, err := decodeLevels(f.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := decodeLevels(f.Asks)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case "snapshot":
			return BookSnapshot{Symbol: f.Symbol, Bids: bids, Asks: asks, Digest: f.Digest}, nil
		case "update":
			return BookUpdate{Symbol: f.Symbol, Bids: bids, Asks: asks, Digest: f.Digest, Seq: f.Seq}, nil
		default:
			return nil, &FieldMissing{Which: "type"}
		}

	default:
		return UnknownFrame{Raw: string(raw)}, nil
	}
}

func decodeLevels(pairs [][2]string) ([]domain.Level, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make([]domain.Level, len(pairs))
	for i, pair := range pairs {
		price, err := decimalfmt.Parse(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimalfmt.Parse(pair[1])
		if err != nil {
			return nil, err
		}
		out[i] = domain.Level{Price: price, Qty: qty}
	}
	return out, nil
}

func decodeInstruments(symbols map[string]instrumentWire) (map[string]domain.Descriptor, error) {
	if len(symbols) == 0 {
		return nil, &FieldMissing{Which: "symbols"}
	}
	out := make(map[string]domain.Descriptor, len(symbols))
	for sym, w := range symbols {
		priceInc, err := decimalfmt.Parse(w.PriceIncrement)
		if err != nil {
			return nil, err
		}
		qtyInc, err := decimalfmt.Parse(w.QtyIncrement)
		if err != nil {
			return nil, err
		}
		out[sym] = domain.Descriptor{
			Symbol:         sym,
			PricePrecision: w.PricePrecision,
			QtyPrecision:   w.QtyPrecision,
			PriceIncrement: priceInc,
			QtyIncrement:   qtyInc,
			Status:         domain.ParseTradingStatus(w.Status),
		}
	}
	return out, nil
}
