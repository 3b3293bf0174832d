package txpipe

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a smallest-unit amount for display: four significant
// figures, with k/M/B/T suffixes for large values.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	d := decimal.NewFromBigInt(amount, -int32(decimals))

	suffix := ""
	for _, step := range []struct {
		limit decimal.Decimal
		name  string
	}{
		{decimal.New(1, 12), "T"},
		{decimal.New(1, 9), "B"},
		{decimal.New(1, 6), "M"},
		{decimal.New(1, 3), "k"},
	} {
		if d.Abs().GreaterThanOrEqual(step.limit) {
			d = d.Div(step.limit)
			suffix = step.name
			break
		}
	}

	return trimZeros(sigFigs(d, 4)) + suffix
}

func sigFigs(d decimal.Decimal, figs int32) string {
	if d.IsZero() {
		return "0"
	}
	// Digits before the decimal point.
	intDigits := int32(len(d.Abs().Truncate(0).BigInt().String()))
	if d.Abs().LessThan(decimal.New(1, 0)) {
		intDigits = 0
	}
	places := figs - intDigits
	if places < 0 {
		places = 0
	}
	return d.Round(places).String()
}

func trimZeros(s string) string {
	for i := range s {
		if s[i] == '.' {
			end := len(s)
			for end > i+1 && s[end-1] == '0' {
				end--
			}
			if end > i+1 {
				return s[:end]
			}
			return s[:i]
		}
	}
	return s
}
