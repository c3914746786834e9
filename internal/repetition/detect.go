// Package repetition finds and cuts looping speech in synthesized audio
// by transcribing it back to timestamped text.
package repetition

import (
	"sort"
	"strings"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/textproc"
)

// Config tunes detection and bounds each transcription call. Zero values
// take defaults.
type Config struct {
	Lookahead            int     // sentences compared after each sentence
	SimilarityThreshold  float64 // Jaccard word-set similarity
	ContainmentThreshold float64 // share of the shorter sentence found in the longer
	MinWords             int     // shorter sentences are never duplicates
	MinPhraseWords       int
	MaxPhraseWords       int
	MergeGap             float64       // seconds
	Timeout              time.Duration // per transcription call
}

// DefaultConfig returns the production detection settings
func DefaultConfig() Config {
	return Config{
		Lookahead:            3,
		SimilarityThreshold:  0.8,
		ContainmentThreshold: 0.8,
		MinWords:             3,
		MinPhraseWords:       4,
		MaxPhraseWords:       10,
		MergeGap:             0.1,
		Timeout:              2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lookahead <= 0 {
		c.Lookahead = d.Lookahead
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.ContainmentThreshold <= 0 {
		c.ContainmentThreshold = d.ContainmentThreshold
	}
	if c.MinWords <= 0 {
		c.MinWords = d.MinWords
	}
	if c.MinPhraseWords <= 0 {
		c.MinPhraseWords = d.MinPhraseWords
	}
	if c.MaxPhraseWords < c.MinPhraseWords {
		c.MaxPhraseWords = max(d.MaxPhraseWords, c.MinPhraseWords)
	}
	if c.MergeGap <= 0 {
		c.MergeGap = d.MergeGap
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Sentence is a transcribed sentence with its estimated time span
type Sentence struct {
	Text  string
	Start float64
	End   float64
	words []string
}

// Sentences splits every transcript segment into timed sentences. Word
// timestamps are used when the recognized words line up with the
// sentence text; otherwise time is shared out by character length.
func Sentences(segments []repositories.TranscriptSegment) []Sentence {
	var out []Sentence
	for _, seg := range segments {
		parts := textproc.SplitSentences(seg.Text)
		if len(parts) == 0 {
			continue
		}
		if timed, ok := timeByWords(parts, seg.Words); ok {
			out = append(out, timed...)
			continue
		}
		out = append(out, timeByLength(parts, seg.Start, seg.End)...)
	}
	return out
}

func timeByWords(parts []string, words []repositories.TranscriptWord) ([]Sentence, bool) {
	counts := make([]int, len(parts))
	total := 0
	for i, p := range parts {
		counts[i] = len(textproc.Words(p))
		total += counts[i]
	}
	if total == 0 || total != len(words) {
		return nil, false
	}

	out := make([]Sentence, 0, len(parts))
	next := 0
	for i, p := range parts {
		if counts[i] == 0 {
			continue
		}
		first, last := words[next], words[next+counts[i]-1]
		out = append(out, Sentence{Text: p, Start: first.Start, End: last.End, words: textproc.Words(p)})
		next += counts[i]
	}
	return out, true
}

func timeByLength(parts []string, start, end float64) []Sentence {
	chars := 0
	for _, p := range parts {
		chars += len(p)
	}
	span := end - start
	out := make([]Sentence, 0, len(parts))
	at := start
	for _, p := range parts {
		length := span * float64(len(p)) / float64(max(chars, 1))
		out = append(out, Sentence{Text: p, Start: at, End: at + length, words: textproc.Words(p)})
		at += length
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b| over word sets
func Jaccard(a, b []string) float64 {
	setA, setB := wordSet(a), wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(setA)+len(setB)-inter)
}

// Containment returns the share of the smaller word set found in the
// larger one
func Containment(a, b []string) float64 {
	setA, setB := wordSet(a), wordSet(b)
	if len(setA) > len(setB) {
		setA, setB = setB, setA
	}
	if len(setA) == 0 {
		return 0
	}
	found := 0
	for w := range setA {
		if setB[w] {
			found++
		}
	}
	return float64(found) / float64(len(setA))
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// DuplicateSentences marks every sentence that repeats one of the
// Lookahead sentences before it
func DuplicateSentences(sentences []Sentence, config Config) []entities.RepetitionRange {
	config = config.withDefaults()
	marked := make([]bool, len(sentences))
	var ranges []entities.RepetitionRange
	for i := range sentences {
		if len(sentences[i].words) < config.MinWords {
			continue
		}
		for j := i + 1; j <= i+config.Lookahead && j < len(sentences); j++ {
			if marked[j] || len(sentences[j].words) < config.MinWords {
				continue
			}
			a, b := sentences[i].words, sentences[j].words
			if Jaccard(a, b) >= config.SimilarityThreshold || Containment(a, b) >= config.ContainmentThreshold {
				marked[j] = true
				ranges = append(ranges, entities.RepetitionRange{
					Start: sentences[j].Start,
					End:   sentences[j].End,
					Text:  sentences[j].Text,
				})
			}
		}
	}
	return ranges
}

// PhraseLoops finds a run of MinPhraseWords to MaxPhraseWords words that
// is immediately spoken again inside one transcript segment and marks
// the repeat
func PhraseLoops(segment repositories.TranscriptSegment, config Config) []entities.RepetitionRange {
	config = config.withDefaults()
	words := timedWords(segment)
	var ranges []entities.RepetitionRange
	for p := 0; p < len(words); {
		length := loopAt(words, p, config)
		if length == 0 {
			p++
			continue
		}
		repeat := words[p+length : p+2*length]
		texts := make([]string, len(repeat))
		for i, w := range repeat {
			texts[i] = w.Text
		}
		ranges = append(ranges, entities.RepetitionRange{
			Start: repeat[0].Start,
			End:   repeat[len(repeat)-1].End,
			Text:  strings.Join(texts, " "),
		})
		p += length
	}
	return ranges
}

// loopAt returns the longest phrase length starting at p that repeats
// right after itself, or 0
func loopAt(words []repositories.TranscriptWord, p int, config Config) int {
	for length := config.MaxPhraseWords; length >= config.MinPhraseWords; length-- {
		if p+2*length > len(words) {
			continue
		}
		same := true
		for k := 0; k < length; k++ {
			if words[p+k].Text != words[p+length+k].Text {
				same = false
				break
			}
		}
		if same {
			return length
		}
	}
	return 0
}

// timedWords returns the segment's words normalized for comparison.
// Without word timestamps each word gets a share of the segment span
// proportional to its length.
func timedWords(segment repositories.TranscriptSegment) []repositories.TranscriptWord {
	if len(segment.Words) > 0 {
		out := make([]repositories.TranscriptWord, 0, len(segment.Words))
		for _, w := range segment.Words {
			norm := strings.Join(textproc.Words(w.Text), " ")
			if norm == "" {
				continue
			}
			out = append(out, repositories.TranscriptWord{Text: norm, Start: w.Start, End: w.End})
		}
		return out
	}

	words := textproc.Words(segment.Text)
	chars := 0
	for _, w := range words {
		chars += len(w)
	}
	span := segment.End - segment.Start
	out := make([]repositories.TranscriptWord, 0, len(words))
	at := segment.Start
	for _, w := range words {
		length := span * float64(len(w)) / float64(max(chars, 1))
		out = append(out, repositories.TranscriptWord{Text: w, Start: at, End: at + length})
		at += length
	}
	return out
}

// Detect runs both passes over a transcript and returns merged ranges
func Detect(segments []repositories.TranscriptSegment, config Config) []entities.RepetitionRange {
	config = config.withDefaults()
	ranges := DuplicateSentences(Sentences(segments), config)
	for _, seg := range segments {
		ranges = append(ranges, PhraseLoops(seg, config)...)
	}
	return Merge(ranges, config.MergeGap)
}

// Merge sorts ranges by start and joins those that overlap or sit within
// gap seconds of each other. The result never overlaps.
func Merge(ranges []entities.RepetitionRange, gap float64) []entities.RepetitionRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]entities.RepetitionRange(nil), ranges...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := []entities.RepetitionRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+gap {
			if r.End > last.End {
				last.End = r.End
			}
			switch {
			case r.Text == "":
			case last.Text == "":
				last.Text = r.Text
			default:
				last.Text += " | " + r.Text
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// KeepRanges returns the complement of removed within [0, total)
func KeepRanges(removed []entities.RepetitionRange, total float64) []repositories.TimeRange {
	var keep []repositories.TimeRange
	at := 0.0
	for _, r := range removed {
		start := max(r.Start, 0)
		if start > at {
			keep = append(keep, repositories.TimeRange{Start: at, End: min(start, total)})
		}
		at = max(at, r.End)
		if at >= total {
			break
		}
	}
	if at < total {
		keep = append(keep, repositories.TimeRange{Start: at, End: total})
	}
	return keep
}
