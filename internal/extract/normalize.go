package extract

import (
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Unit heuristic thresholds. A value above unitValueFloor whose implied
// per-share price, read as thousands, exceeds unitPriceCeiling was reported in
// whole dollars.
const (
	unitValueFloor   = 1_000_000
	unitPriceCeiling = 1000
	tickerLen        = 10
)

// Normalize converts one raw row into a Holding. degraded counts the numeric
// fields that carried text but could not be read as a number.
func Normalize(r Row) (h Holding, degraded int) {
	shares, ok := ParseCount(r.SharesText)
	if !ok {
		degraded++
	}
	value, ok := ParseCount(r.ValueText)
	if !ok {
		degraded++
	}
	issuer := cleanText(r.Issuer)
	h = Holding{
		Issuer: issuer,
		Cusip:  cleanText(r.Cusip),
		Shares: shares,
		Value:  NormalizeValue(value, shares),
		Kind:   KindFromPutCall(r.PutCall),
		Ticker: ApproximateTicker(issuer),
	}
	return h, degraded
}

// ParseCount reads a non-negative integer from numeric text with thousands
// separators. Empty text is zero. Unreadable text is zero with ok=false.
// Fractions truncate toward zero and negative numbers clamp to zero.
func ParseCount(s string) (n int64, ok bool) {
	s = strings.NewReplacer(",", "", "$", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f <= 0 {
		return 0, true
	}
	if f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// NormalizeValue returns value in thousands. Some filers report whole dollars
// in a field defined as thousands; that shows up as a per-share price above
// 1000 when the value is read as thousands, and such values are divided by
// 1000.
func NormalizeValue(value, shares int64) int64 {
	if value <= unitValueFloor || shares <= 0 {
		return value
	}
	if impliedPriceTooHigh(value, shares) {
		return value / 1000
	}
	return value
}

// impliedPriceTooHigh reports value*1000/shares > unitPriceCeiling as an
// exact comparison of value*1000 with unitPriceCeiling*shares. The products
// are taken in 128 bits, so neither side overflows or rounds.
func impliedPriceTooHigh(value, shares int64) bool {
	hiV, loV := bits.Mul64(uint64(value), 1000)
	hiS, loS := bits.Mul64(unitPriceCeiling, uint64(shares))
	return hiV > hiS || (hiV == hiS && loV > loS)
}

// KindFromPutCall maps the put/call marker to a Kind; anything else is stock.
func KindFromPutCall(s string) Kind {
	switch strings.ToLower(cleanText(s)) {
	case "put":
		return KindPut
	case "call":
		return KindCall
	default:
		return KindStock
	}
}

// ApproximateTicker upper-cases the issuer name and keeps its first ten
// characters. It is a display placeholder, not a symbol lookup.
func ApproximateTicker(issuer string) string {
	r := []rune(strings.ToUpper(cleanText(issuer)))
	if len(r) > tickerLen {
		r = r[:tickerLen]
	}
	return string(r)
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
