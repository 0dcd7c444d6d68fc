// Package decimalfmt provides exact, allocation-conscious parsing and
// fixed-point formatting of the price/quantity strings carried on the wire.
// Everything that feeds the digest reconstructor goes through here; binary
// floating point never appears on that path.
package decimalfmt

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// Decimal is the exact fixed-point value type used across the book, the
// wire decoder and the digest reconstructor. It is a thin alias over
// shopspring/decimal, which already stores values as an arbitrary-precision
// integer coefficient plus a base-10 exponent, matching the exchange's own
// mantissa+scale wire representation.
type Decimal = decimal.Decimal

// MalformedNumber is returned when a wire value cannot be parsed as an exact
// decimal (NaN, infinities, or plain garbage).
type MalformedNumber struct {
	Text string
	Err  error
}

func (e *MalformedNumber) Error() string {
	return fmt.Sprintf("malformed number %q: %v", e.Text, e.Err)
}

func (e *MalformedNumber) Unwrap() error { return e.Err }

var errEmptyInput = errors.New("empty input")

// Parse converts a wire-format numeric string into an exact Decimal. It
// accepts integer, fixed-point, and scientific forms and performs no
// rounding: the returned value carries exactly the digits present in text.
func Parse(text string) (Decimal, error) {
	if text == "" {
		return Decimal{}, &MalformedNumber{Text: text, Err: errEmptyInput}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return Decimal{}, &MalformedNumber{Text: text, Err: err}
	}
	return d, nil
}

// formatBufPool holds the scratch buffers used by FormatFixed's fast path so
// the hot path of digest reconstruction reuses its digit buffer instead of
// allocating a new one per call.
var formatBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 32)
		return &b
	},
}

// FormatFixed renders value with exactly precision fractional digits, then
// strips the decimal point and any leading zeros (keeping at least one
// digit). This is the exact preimage encoding the exchange's digest
// algorithm consumes; see the worked examples in spec.md §4.1.
//
// Rounding is half-away-from-zero and only engages when value carries more
// fractional digits than precision, in normal operation wire values already
// match their instrument's declared precision, so this is a documented
// safety net rather than the common case.
func FormatFixed(value Decimal, precision int32) string {
	coeff := value.Coefficient()
	exp := value.Exponent()
	shift := precision + exp

	bufPtr := formatBufPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]
	defer func() {
		*bufPtr = buf
		formatBufPool.Put(bufPtr)
	}()

	var scaled big.Int
	if shift >= 0 {
		scaled.Mul(coeff, pow10(shift))
	} else {
		scaled.Set(coeff)
		roundHalfAwayFromZero(&scaled, -shift)
	}
	scaled.Abs(&scaled)

	// Fast path: most prices/quantities fit comfortably in an int64 once
	// scaled to precision, so avoid big.Int's string routine entirely.
	if scaled.IsInt64() {
		buf = strconv.AppendInt(buf, scaled.Int64(), 10)
		return string(buf)
	}
	buf = append(buf, scaled.Text(10)...)
	return string(buf)
}

// roundHalfAwayFromZero divides mantissa by 10^digits in place, rounding the
// quotient away from zero when the remainder is at least half the divisor.
func roundHalfAwayFromZero(mantissa *big.Int, digits int32) {
	if digits <= 0 {
		return
	}
	divisor := pow10(digits)
	quotient, remainder := new(big.Int), new(big.Int)
	quotient.QuoRem(mantissa, divisor, remainder)
	remainder.Abs(remainder)
	remainder.Lsh(remainder, 1) // remainder * 2
	if remainder.CmpAbs(divisor) >= 0 {
		if mantissa.Sign() < 0 {
			quotient.Sub(quotient, big.NewInt(1))
		} else {
			quotient.Add(quotient, big.NewInt(1))
		}
	}
	mantissa.Set(quotient)
}

var pow10Cache sync.Map // int32 -> *big.Int

func pow10(n int32) *big.Int {
	if n < 0 {
		n = 0
	}
	if v, ok := pow10Cache.Load(n); ok {
		return v.(*big.Int)
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	actual, _ := pow10Cache.LoadOrStore(n, v)
	return actual.(*big.Int)
}
