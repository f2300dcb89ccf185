package fusion

// defaultLabelMap rewrites generic object-detector classes into the domain
// vocabulary. Classes absent from the table pass through unchanged.
var defaultLabelMap = map[string]string{
	"person":     "military personnel",
	"airplane":   "aircraft",
	"truck":      "armored vehicle",
	"boat":       "warship",
	"helicopter": "helicopter",
	"car":        "vehicle",
}

// LabelMapper applies the detector class mapping table.
type LabelMapper struct {
	table map[string]string
}

// NewLabelMapper builds a mapper from the configured overrides. An empty
// override map selects the built-in table; a non-empty map replaces it.
// Keys and values are normalized so config casing does not matter.
func NewLabelMapper(overrides map[string]string) *LabelMapper {
	src := defaultLabelMap
	if len(overrides) > 0 {
		src = overrides
	}
	table := make(map[string]string, len(src))
	for k, v := range src {
		key := Normalize(k)
		val := Normalize(v)
		if key == "" || val == "" {
			continue
		}
		table[key] = val
	}
	return &LabelMapper{table: table}
}

// Apply maps a raw detector class to its domain label.
func (m *LabelMapper) Apply(label string) string {
	n := Normalize(label)
	if mapped, ok := m.table[n]; ok {
		return mapped
	}
	return n
}
