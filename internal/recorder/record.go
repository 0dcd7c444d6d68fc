// Package recorder implements the append-only frame journal and its
// replayer. Both live traffic and replayed journals funnel through the same
// downstream decode/apply/verify code, the journal format is the
// determinism contract described in spec.md §4.6/§8.
package recorder

import (
	"encoding/json"
	"time"
)

// Record is one journal line: a raw wire frame stamped with the wall-clock
// time it arrived, plus an optional human-readable decoded-event tag used
// for quick grepping of a journal without a full decode pass.
type Record struct {
	Ts           time.Time `json:"ts"`
	RawFrame     string    `json:"raw_frame"`
	DecodedEvent string    `json:"decoded_event,omitempty"`
	Symbol       string    `json:"symbol,omitempty"`
}

func (r Record) MarshalLine() ([]byte, error) {
	line, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

func unmarshalLine(line []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(line, &r)
	return r, err
}
