package domain

import (
	"sort"
	"strings"
)

// NormalizeTicker trims and uppercases a raw symbol and rewrites the '^'
// share-class separator some listings use into '-'.
func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "^", "-"))
}

// ValidTicker reports whether t is non-empty and made only of A-Z, 0-9, '.'
// and '-'. It expects an already normalised ticker.
func ValidTicker(t string) bool {
	if t == "" {
		return false
	}
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// NormalizeTickers normalises raws, drops empties and duplicates, and
// returns the result sorted. Symbols failing ValidTicker are returned
// separately so callers can log them.
func NormalizeTickers(raws []string) (tickers []string, invalid []string) {
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		t := NormalizeTicker(raw)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if !ValidTicker(t) {
			invalid = append(invalid, t)
			continue
		}
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	sort.Strings(invalid)
	return tickers, invalid
}
