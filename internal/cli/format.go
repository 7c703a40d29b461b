package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatMoney formats a currency amount with thousands separators and two
// decimals, e.g. 1234.5 -> "$1,234.50".
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(math.Round(v * 100))
	return fmt.Sprintf("%s$%s.%02d", sign, FormatNumber(cents/100), cents%100)
}

// FormatPct formats a percentage with one decimal.
func FormatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// FormatSignedPct formats a percentage change with an explicit sign.
func FormatSignedPct(v float64) string {
	return fmt.Sprintf("%+.1f%%", v)
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatElapsed formats a run duration, e.g. 1m12s or 850ms.
func FormatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}
