// Package repetition implements the per-agent loop detector: a rolling
// window of recent outputs compared by word-shingle Jaccard similarity,
// plus independent termination-phrase matching (§4.3).
package repetition

import "strings"

// DefaultSimilarityThreshold, DefaultMaxConsecutiveSimilar, and
// DefaultWindowSize are the detector's parameters when the caller passes
// a non-positive value.
const (
	DefaultSimilarityThreshold   = 0.85
	DefaultMaxConsecutiveSimilar = 2
	DefaultWindowSize            = 5
)

// DefaultTerminationPhrases is used when the caller configures none.
var DefaultTerminationPhrases = []string{"[done]", "end of conversation", "goodbye and end"}

// Detector tracks one agent's recent outputs against a peer-visible
// context window and flags sustained near-duplicate responses.
type Detector struct {
	similarityThreshold   float64
	maxConsecutiveSimilar int
	windowSize            int
	recentResponses       []string
	consecutiveSimilar    int
}

// New creates a Detector. Non-positive threshold/maxConsecutive/window
// values fall back to the package defaults.
func New(similarityThreshold float64, maxConsecutiveSimilar, windowSize int) *Detector {
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	if maxConsecutiveSimilar <= 0 {
		maxConsecutiveSimilar = DefaultMaxConsecutiveSimilar
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Detector{
		similarityThreshold:   similarityThreshold,
		maxConsecutiveSimilar: maxConsecutiveSimilar,
		windowSize:            windowSize,
	}
}

// ConsecutiveSimilar returns the current streak count.
func (d *Detector) ConsecutiveSimilar() int {
	return d.consecutiveSimilar
}

// Observe feeds one new sanitized output plus the current peer-visible
// context texts (most recent last) into the detector and reports whether
// the sustained-repetition condition has now triggered.
//
// own recent responses are tracked internally across calls; peerContext
// should be the sanitized content of the recent context messages not sent
// by this agent, so the two together form the "own ∪ peer" set in §4.3.
func (d *Detector) Observe(output string, peerContext []string) (triggered bool, maxSimilarity float64) {
	candidates := make([]string, 0, len(peerContext)+len(d.recentResponses))
	candidates = append(candidates, peerContext...)
	candidates = append(candidates, d.recentResponses...)

	for _, c := range candidates {
		sim := JaccardSimilarity(output, c)
		if sim > maxSimilarity {
			maxSimilarity = sim
		}
	}

	if maxSimilarity >= d.similarityThreshold {
		d.consecutiveSimilar++
	} else {
		d.consecutiveSimilar = 0
	}

	d.recentResponses = append(d.recentResponses, output)
	if len(d.recentResponses) > d.windowSize {
		d.recentResponses = d.recentResponses[len(d.recentResponses)-d.windowSize:]
	}

	triggered = d.consecutiveSimilar >= d.maxConsecutiveSimilar
	return triggered, maxSimilarity
}

// JaccardSimilarity computes word-shingle Jaccard similarity on
// lowercased, whitespace-split tokens. Exact match after normalization
// short-circuits to 1.0; either side empty yields 0.0.
func JaccardSimilarity(a, b string) float64 {
	normA := strings.ToLower(strings.TrimSpace(a))
	normB := strings.ToLower(strings.TrimSpace(b))

	if normA == "" || normB == "" {
		return 0.0
	}
	if normA == normB {
		return 1.0
	}

	setA := tokenSet(normA)
	setB := tokenSet(normB)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// ContainsTerminationPhrase reports whether text contains any of phrases
// as a case-insensitive substring match.
func ContainsTerminationPhrase(text string, phrases []string) (string, bool) {
	if len(phrases) == 0 {
		phrases = DefaultTerminationPhrases
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
