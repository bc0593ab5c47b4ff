package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPrice formats a nullable price with two decimals, or "-" for null.
func FormatPrice(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

// FormatVolume formats a nullable volume, or "-" for null.
func FormatVolume(v *int64) string {
	if v == nil {
		return "-"
	}
	return FormatInt(*v)
}

// FormatAction renders the dividend and split of a bar, or "" when neither
// is set.
func FormatAction(div, split decimal.NullDecimal) string {
	var parts []string
	if div.Valid && !div.Decimal.IsZero() {
		parts = append(parts, "div "+div.Decimal.String())
	}
	if split.Valid && !split.Decimal.IsZero() {
		parts = append(parts, "split "+split.Decimal.String())
	}
	return strings.Join(parts, ", ")
}

// FormatElapsed rounds d for display.
func FormatElapsed(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
