package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var currencyJunkRegex = regexp.MustCompile(`[€£$\s]`)

// ParsePrice parses a price from forms like "€14.99", "14,99 €" or "1.234,56".
// Returns nil when no usable number is present.
func ParsePrice(s string) *float64 {
	cleaned := currencyJunkRegex.ReplaceAllString(s, "")
	for _, code := range []string{"EUR", "GBP", "USD"} {
		cleaned = strings.ReplaceAll(cleaned, code, "")
	}
	if cleaned == "" {
		return nil
	}
	// European decimal comma, with optional thousands dot
	if strings.Contains(cleaned, ",") {
		if strings.Contains(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// SafeAtoi parses s as an integer, tolerating surrounding whitespace and
// thousands separators. Returns 0 on failure.
func SafeAtoi(s string) int {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", "")
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// Round2 rounds a price to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
