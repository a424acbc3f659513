package price

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// amount matches 1,234.50 / 1.234,50 / 1234.50 / 420,00 / 95 with at
	// most two decimals.
	amount = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:[.,]\d{1,2})?)`
	// label is the gap allowed between a price label and its amount.
	label = `[:\s]*(?:[€$£]|EUR|USD|GBP)?\s*`
)

// Pattern is one named price regular expression; the first capture group
// is the amount.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

var wholeAmount = regexp.MustCompile(`^` + amount + `$`)

// DefaultPatterns are tried in order against a piece of text.
var DefaultPatterns = []Pattern{
	{Name: "total-price-label", Re: regexp.MustCompile(`(?i)total\s*price` + label + amount)},
	{Name: "price-label", Re: regexp.MustCompile(`(?i)price\s*(?:from)?` + label + amount)},
	{Name: "symbol-before", Re: regexp.MustCompile(`[€$£]\s*` + amount)},
	{Name: "symbol-after", Re: regexp.MustCompile(amount + `\s*[€$£]`)},
	{Name: "per-night", Re: regexp.MustCompile(`(?i)` + amount + `\s*(?:[€$£]|EUR|USD|GBP)?\s*(?:/|per)\s*night`)},
	{Name: "per-night-label", Re: regexp.MustCompile(`(?i)per\s*night` + label + amount)},
	{Name: "currency-code", Re: regexp.MustCompile(`(?i)` + amount + `\s*(?:EUR|USD|GBP)\b`)},
	{Name: "currency-code-prefix", Re: regexp.MustCompile(`(?i)\b(?:EUR|USD|GBP)\s*` + amount)},
}

// ParseAmount strips currency noise, accepts either separator convention and
// returns a two-decimal amount. Non-positive, non-finite and malformed
// values are rejected.
func ParseAmount(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, s)
	if !wholeAmount.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(NormalizeAmount(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return math.Round(v*100) / 100, true
}

// NormalizeAmount rewrites "1.234,50", "1,234.50", "420,00" or "1.234" into
// the "1234.50" form strconv reads. The last separator is the decimal one,
// unless it is the only one and three digits follow it.
func NormalizeAmount(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), ".,")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// MatchText applies the patterns in order and returns the amounts found by
// the first pattern that yields at least one valid amount.
func MatchText(text string, patterns []Pattern) []float64 {
	for _, p := range patterns {
		var found []float64
		for _, m := range p.Re.FindAllStringSubmatch(text, -1) {
			if v, ok := ParseAmount(m[1]); ok {
				found = append(found, v)
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}
