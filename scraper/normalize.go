package scraper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	currencyMarkers = strings.NewReplacer("₹", "", "INR", "", "MRP", "")
	nonNumeric      = regexp.MustCompile(`[^\d.,]`)
)

// Normalize cleans a raw price token into a plain numeric string. Rupee sign, INR and
// MRP markers are removed, everything but digits, commas and periods is dropped, and
// commas are treated as thousands separators. ok is false when nothing numeric is left.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(currencyMarkers.Replace(s))
	s = nonNumeric.ReplaceAllString(s, "")

	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	}
	s = strings.ReplaceAll(s, ",", "")

	if s == "" {
		return "", false
	}
	return s, true
}

// ParsePrice normalizes a raw token and parses it as a decimal amount
func ParsePrice(raw string) (decimal.Decimal, error) {
	clean, ok := Normalize(raw)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: empty after cleanup of %q", ErrNormalizationFailed, raw)
	}
	price, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrNormalizationFailed, clean)
	}
	return price, nil
}
