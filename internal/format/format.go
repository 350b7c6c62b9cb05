// Package format converts between the ledger's integer units and the
// human-readable strings the UI works with: wei to ether, basis points
// to percent, shortened addresses.
package format

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// etherDecimals is the number of fractional digits between wei and
// ether (10^18 wei per ether).
const etherDecimals = 18

var numericRe = regexp.MustCompile(`^-?\d*\.?\d+$`)

// ErrInvalidAmount is returned for amount strings that do not parse or
// carry more precision than the smallest unit can represent.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrInvalidPercent is returned for percent strings that do not parse
// into basis points.
var ErrInvalidPercent = errors.New("invalid percent")

// ParseEther converts an ether amount string ("0.1") to wei. Negative
// amounts and amounts with more than 18 fractional digits are rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}

	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %q has sub-wei precision", ErrInvalidAmount, s)
	}
	return wei.BigInt(), nil
}

// FormatWei renders a wei value as an ether string truncated to the
// given number of fractional digits. A nil value renders as "0".
func FormatWei(wei *big.Int, digits int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).Truncate(int32(digits)).String()
}

// BasisPointsToPercent renders a basis-point fee as a percent string
// with two fractional digits (250 -> "2.50").
func BasisPointsToPercent(bp uint64) string {
	return decimal.New(int64(bp), -2).StringFixed(2)
}

// PercentToBasisPoints converts a percent string to basis points,
// truncating sub-basis-point precision ("2.5" -> 250).
func PercentToBasisPoints(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative percent %q", ErrInvalidPercent, s)
	}
	return uint64(d.Shift(2).Truncate(0).IntPart()), nil
}

// ShortenAddress abbreviates an address to 0x1234...5678 form.
func ShortenAddress(address string) string {
	if len(address) < 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// IsNumeric reports whether s is a plain decimal number.
func IsNumeric(s string) bool {
	return numericRe.MatchString(s)
}

// ParseBigInt parses a base-10 integer string, returning false on
// malformed input instead of a partial value.
func ParseBigInt(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}
