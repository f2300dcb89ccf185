// Package duration formats time.Duration values for human-readable
// output, extending the standard notation with a day unit.
package duration

import (
	"fmt"
	"strings"
	"time"
)

// Day is 24 hours.
const Day = 24 * time.Hour

// Format renders a duration as a compact unit sequence, largest unit
// first, omitting zero components: "90m" -> "1h30m", "36h" -> "1d12h".
// Sub-second durations fall back to the standard library rendering.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}

	if d < time.Second {
		return neg + d.String()
	}

	var b strings.Builder
	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if hours := d / time.Hour; hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
		d -= hours * time.Hour
	}
	if mins := d / time.Minute; mins > 0 {
		fmt.Fprintf(&b, "%dm", mins)
		d -= mins * time.Minute
	}
	if secs := d / time.Second; secs > 0 {
		fmt.Fprintf(&b, "%ds", secs)
	}
	return neg + b.String()
}
