// Package bytesize formats byte counts for human-readable output.
package bytesize

import (
	"fmt"
	"strconv"
)

// Size is a byte count.
type Size int64

// Binary size units.
const (
	KB Size = 1 << (10 * (iota + 1))
	MB
	GB
	TB
)

// Format renders a size using the largest unit that keeps the value
// at or above 1, with one decimal place for fractional values.
func Format(s Size) string {
	neg := ""
	if s < 0 {
		neg = "-"
		s = -s
	}

	switch {
	case s >= TB:
		return neg + trim(float64(s)/float64(TB)) + "TB"
	case s >= GB:
		return neg + trim(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		return neg + trim(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		return neg + trim(float64(s)/float64(KB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", neg, int64(s))
	}
}

// trim renders a value with one decimal place, dropping a trailing ".0".
func trim(v float64) string {
	out := strconv.FormatFloat(v, 'f', 1, 64)
	if len(out) > 2 && out[len(out)-2:] == ".0" {
		return out[:len(out)-2]
	}
	return out
}

// Bytes returns the size as a plain int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
