// Package normalize turns raw price text scraped from a product page into a
// canonical decimal value.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	// currency words that show up next to the amount on the source market
	currencyWords = regexp.MustCompile(`(?i)\b(?:rs|inr|usd|eur|gbp|mrp)\b\.?:?`)
	amountPattern = regexp.MustCompile(`^(?:\d+(?:\.\d*)?|\.\d+)$`)
)

// Price parses raw text such as "₹24,999.00" or "Rs. 1,299" into a decimal
// value. Currency symbols, currency words, whitespace and comma thousands
// separators are dropped. It reports false when the remainder is not a
// plain decimal number. Price has no state and is safe for concurrent use.
func Price(raw string) (decimal.Decimal, bool) {
	s := norm.NFKC.String(raw)
	s = currencyWords.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSuffix(b.String(), "/-")
	if !amountPattern.MatchString(cleaned) {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
