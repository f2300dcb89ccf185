// Package fusion runs the per-frame detection sources, normalizes their
// output into flat Detection records, and enforces per-source sampling
// cadence and confidence thresholds.
package fusion

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a label: Unicode NFKC, lowercase, internal
// whitespace collapsed, trimmed. Labels that collapse to the empty string
// should be dropped by the caller.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// aliases folds near-synonym labels emitted by different sources onto one
// canonical form so aggregation counts them together.
var aliases = map[string]string{
	"naval ship":     "warship",
	"navy ship":      "warship",
	"battleship":     "warship",
	"war plane":      "aircraft",
	"warplane":       "aircraft",
	"plane":          "aircraft",
	"airplane":       "aircraft",
	"aeroplane":      "aircraft",
	"chopper":        "helicopter",
	"soldiers":       "military personnel",
	"soldier":        "military personnel",
	"troops":         "military personnel",
	"armored car":    "armored vehicle",
	"armoured car":   "armored vehicle",
	"fighter plane":  "fighter jet",
	"fighter jets":   "fighter jet",
	"tanks":          "tank",
	"missiles":       "missile",
	"drones":         "drone",
	"uav":            "drone",
	"military truck": "armored vehicle",
}

// Canonical normalizes a label and folds known aliases.
func Canonical(s string) string {
	n := Normalize(s)
	if folded, ok := aliases[n]; ok {
		return folded
	}
	return n
}
