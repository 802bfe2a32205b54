package cli

import (
	"fmt"
	"time"
)

// FormatDuration renders d for status lines: milliseconds under a second,
// tenths of a second under a minute, then minutes and seconds.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d / time.Minute)
	rest := d - time.Duration(mins)*time.Minute
	return fmt.Sprintf("%dm%.1fs", mins, rest.Seconds())
}

// Count renders n with the singular or plural noun: "1 item", "3 items".
func Count(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
