// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from the textual
// cells produced by spreadsheets and CSV exports.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseDecimalToCents converts a decimal string to cents with half-up rounding.
//
// It accepts dot (12.34) and comma (12,34) decimal separators, an optional
// leading currency sign and thousands separators when a dot is the decimal
// point. Negative amounts (refunds) are accepted with a leading minus.
//
// Examples:
//
//	ParseDecimalToCents("12.34")     -> 1234, nil
//	ParseDecimalToCents("$1,200.50") -> 120050, nil
//	ParseDecimalToCents("-3,5")      -> -350, nil
//	ParseDecimalToCents("0")         -> 0, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimLeft(s, "$€£ ")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	// "1,200.50" uses commas for thousands; "12,34" uses a decimal comma.
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if strings.Contains(fracPart, ".") {
		return 0, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}

	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
		}
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			fracCents++
		}
	}

	cents := iv*100 + fracCents
	if negative {
		cents = -cents
	}
	return cents, nil
}
