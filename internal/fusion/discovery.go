package fusion

import (
	"sort"
	"strings"
)

// stopwords break captions into candidate noun phrases; they never appear
// inside a candidate.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "by": true, "to": true, "for": true, "with": true,
	"and": true, "or": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "being": true, "been": true, "it": true,
	"its": true, "this": true, "that": true, "these": true, "those": true,
	"there": true, "here": true, "as": true, "from": true, "into": true,
	"near": true, "next": true, "over": true, "under": true, "above": true,
	"below": true, "some": true, "while": true, "during": true,
}

// genericPhrases are caption fragments too vague to index as entities.
var genericPhrases = map[string]bool{
	"large": true, "small": true, "many": true, "several": true,
	"group": true, "number": true, "lot": true, "row": true, "line": true,
	"view": true, "image": true, "photo": true, "picture": true,
	"video": true, "scene": true, "background": true, "foreground": true,
	"close up": true, "top": true, "bottom": true, "side": true,
	"front": true, "back": true, "middle": true, "area": true,
	"place": true, "thing": true, "things": true, "day": true,
	"time": true, "ground": true, "sky": true, "water": true,
}

// defaultLexicon is the built-in domain vocabulary used when
// discovery.only_military is set and no lexicon is configured. A candidate
// phrase qualifies if any of its words appears here.
var defaultLexicon = []string{
	"tank", "soldier", "soldiers", "troop", "troops", "military",
	"army", "navy", "aircraft", "jet", "fighter", "bomber", "helicopter",
	"missile", "rocket", "launcher", "artillery", "howitzer", "mortar",
	"rifle", "gun", "weapon", "warship", "ship", "frigate", "destroyer",
	"carrier", "submarine", "convoy", "drone", "uav", "radar",
	"armored", "armoured", "vehicle", "apc", "humvee", "uniform",
	"camouflage", "explosion", "smoke", "flag", "base", "bunker",
	"trench", "checkpoint", "personnel",
}

const maxPhraseWords = 3

// candidate is a scored discovery phrase extracted from a caption.
type candidate struct {
	Label string
	Score float64
}

// discoverer turns raw captions into filtered, scored candidate labels and
// tracks the consecutive-frame streak each label needs before it is emitted.
type discoverer struct {
	minScore       float64
	minConsecutive int
	maxPhrases     int
	onlyLexicon    bool
	lexicon        map[string]bool

	streaks map[string]int
	// bestScore feeds the verification pass ranking.
	bestScore map[string]float64
}

func newDiscoverer(minScore float64, minConsecutive, maxPhrases int, onlyLexicon bool, lexicon []string) *discoverer {
	words := lexicon
	if len(words) == 0 {
		words = defaultLexicon
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			set[n] = true
		}
	}
	if minConsecutive < 1 {
		minConsecutive = 1
	}
	if maxPhrases < 1 {
		maxPhrases = 8
	}
	return &discoverer{
		minScore:       minScore,
		minConsecutive: minConsecutive,
		maxPhrases:     maxPhrases,
		onlyLexicon:    onlyLexicon,
		lexicon:        set,
		streaks:        make(map[string]int),
		bestScore:      make(map[string]float64),
	}
}

// ingest processes one caption from an eligible frame and returns the
// candidates whose consecutive-frame streak has reached the threshold.
func (d *discoverer) ingest(caption string) []candidate {
	phrases := d.extract(caption)

	seen := make(map[string]bool, len(phrases))
	var emitted []candidate
	for _, c := range phrases {
		seen[c.Label] = true
		d.streaks[c.Label]++
		if c.Score > d.bestScore[c.Label] {
			d.bestScore[c.Label] = c.Score
		}
		if d.streaks[c.Label] >= d.minConsecutive {
			emitted = append(emitted, c)
		}
	}
	// A missed frame resets the streak.
	for label := range d.streaks {
		if !seen[label] {
			delete(d.streaks, label)
		}
	}
	return emitted
}

// extract tokenizes a caption into candidate phrases. Chunks of consecutive
// content words become phrases (capped at maxPhraseWords, keeping the head
// noun side), filtered against the generic stop-list and, when configured,
// the domain lexicon.
func (d *discoverer) extract(caption string) []candidate {
	text := Normalize(stripPunct(caption))
	if text == "" {
		return nil
	}

	var chunks [][]string
	var current []string
	for _, word := range strings.Fields(text) {
		if stopwords[word] {
			if len(current) > 0 {
				chunks = append(chunks, current)
				current = nil
			}
			continue
		}
		current = append(current, word)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	seen := make(map[string]bool)
	var out []candidate
	for _, chunk := range chunks {
		if len(chunk) > maxPhraseWords {
			chunk = chunk[len(chunk)-maxPhraseWords:]
		}
		label := Canonical(strings.Join(chunk, " "))
		if label == "" || seen[label] || genericPhrases[label] {
			continue
		}
		if allGeneric(chunk) {
			continue
		}
		if d.onlyLexicon && !d.inLexicon(label) {
			continue
		}
		score := phraseScore(chunk)
		if score < d.minScore {
			continue
		}
		seen[label] = true
		out = append(out, candidate{Label: label, Score: score})
		if len(out) >= d.maxPhrases {
			break
		}
	}
	return out
}

func (d *discoverer) inLexicon(phrase string) bool {
	for _, w := range strings.Fields(phrase) {
		if d.lexicon[w] {
			return true
		}
	}
	return false
}

// topLabels returns up to k discovered labels ranked by best caption score
// descending, label ascending on ties.
func (d *discoverer) topLabels(k int) []string {
	labels := make([]string, 0, len(d.bestScore))
	for label := range d.bestScore {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if d.bestScore[labels[i]] != d.bestScore[labels[j]] {
			return d.bestScore[labels[i]] > d.bestScore[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if len(labels) > k {
		labels = labels[:k]
	}
	return labels
}

func allGeneric(words []string) bool {
	for _, w := range words {
		if !genericPhrases[w] {
			return false
		}
	}
	return true
}

// phraseScore is a length-weighted heuristic: multi-word phrases carry more
// signal than single nouns. Clamped to [0, 1].
func phraseScore(words []string) float64 {
	score := 0.3 + 0.15*float64(len(words)-1)
	if score > 1 {
		score = 1
	}
	return score
}

func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteRune(r)
		case r == '-' || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}
