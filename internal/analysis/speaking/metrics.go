// Package speaking computes local, model-independent metrics for a spoken answer.
package speaking

import (
	"math"
	"strings"
	"unicode"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

// 常见口头填充词，按小写匹配。
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "erm": {}, "er": {}, "ah": {}, "hmm": {}, "like": {},
	"basically": {}, "actually": {}, "literally": {}, "so": {}, "well": {},
}

var fillerPhrases = []string{"you know", "i mean", "sort of", "kind of"}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "to": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"it": {}, "i": {}, "you": {}, "he": {}, "she": {}, "we": {}, "they": {}, "my": {}, "me": {},
	"that": {}, "this": {}, "there": {}, "as": {}, "do": {}, "did": {}, "have": {}, "had": {},
}

// Compute derives speaking metrics from a transcript and the answer length in seconds.
func Compute(transcript string, durationSeconds int) practice.SpeakingMetrics {
	words := tokenize(transcript)
	if len(words) == 0 {
		return practice.SpeakingMetrics{}
	}

	unique := make(map[string]struct{}, len(words))
	content := 0
	fillers := 0
	for _, w := range words {
		unique[w] = struct{}{}
		if _, ok := fillerWords[w]; ok {
			fillers++
			continue
		}
		if _, ok := stopWords[w]; !ok {
			content++
		}
	}

	lower := " " + strings.Join(words, " ") + " "
	for _, phrase := range fillerPhrases {
		fillers += strings.Count(lower, " "+phrase+" ")
	}

	metrics := practice.SpeakingMetrics{
		WordCount:      len(words),
		UniqueWords:    len(unique),
		FillerCount:    fillers,
		FillerRatio:    round2(float64(fillers) / float64(len(words))),
		LexicalDensity: round2(float64(content) / float64(len(words))),
	}
	if durationSeconds > 0 {
		metrics.WordsPerMinute = round2(float64(len(words)) * 60 / float64(durationSeconds))
	}
	return metrics
}

// Timing classifies an answer length against the question's expected duration.
// Answers within 60%-140% of the expectation are appropriate.
func Timing(durationSeconds, expectedSeconds int) practice.TimingEfficiency {
	if expectedSeconds <= 0 {
		return practice.TimingAppropriate
	}
	ratio := float64(durationSeconds) / float64(expectedSeconds)
	switch {
	case ratio < 0.6:
		return practice.TimingTooShort
	case ratio > 1.4:
		return practice.TimingTooLong
	default:
		return practice.TimingAppropriate
	}
}

// KeyPointCoverage splits key points into covered and missed by matching their
// significant words against the transcript. A key point counts as covered when
// at least half of its significant words appear.
func KeyPointCoverage(transcript string, keyPoints []string) (covered, missed []string) {
	covered = make([]string, 0, len(keyPoints))
	missed = make([]string, 0, len(keyPoints))

	said := make(map[string]struct{})
	for _, w := range tokenize(transcript) {
		said[stem(w)] = struct{}{}
	}

	for _, point := range keyPoints {
		terms := significant(tokenize(point))
		if len(terms) == 0 {
			continue
		}
		hits := 0
		for _, term := range terms {
			if _, ok := said[stem(term)]; ok {
				hits++
			}
		}
		if hits*2 >= len(terms) {
			covered = append(covered, point)
		} else {
			missed = append(missed, point)
		}
	}
	return covered, missed
}

// FluencyHint estimates a 0-100 fluency score from pace and filler usage. It is
// used when the remote model leaves the fluency score out.
func FluencyHint(m practice.SpeakingMetrics) float64 {
	if m.WordCount == 0 {
		return 0
	}
	score := 80.0
	// 120-160 wpm is a comfortable speaking pace.
	switch {
	case m.WordsPerMinute > 0 && m.WordsPerMinute < 90:
		score -= 20
	case m.WordsPerMinute > 0 && m.WordsPerMinute < 120:
		score -= 8
	case m.WordsPerMinute > 190:
		score -= 12
	}
	score -= math.Min(30, m.FillerRatio*200)
	if score < 0 {
		return 0
	}
	return math.Round(score)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func significant(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := stopWords[w]; ok {
			continue
		}
		if len(w) < 3 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// stem strips a few common English suffixes so "activities" matches "activity".
func stem(w string) string {
	for _, suffix := range []string{"ies", "ing", "ed", "es", "s"} {
		if len(w) > len(suffix)+2 && strings.HasSuffix(w, suffix) {
			if suffix == "ies" {
				return strings.TrimSuffix(w, suffix) + "y"
			}
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
