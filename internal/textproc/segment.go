package textproc

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/satriahrh/narrasi/domain/entities"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

var abbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Sr.", "Jr.", "St.", "Mt.",
	"Inc.", "Ltd.", "Co.", "Corp.", "vs.", "etc.", "e.g.", "i.e.", "approx.",
}

// SplitSentences splits text on terminal punctuation followed by
// whitespace, keeping the punctuation with its sentence. Common
// abbreviations do not end a sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		candidate := strings.TrimSpace(text[start:m[1]])
		if endsWithAbbreviation(candidate) {
			continue
		}
		if candidate != "" {
			sentences = append(sentences, candidate)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func endsWithAbbreviation(s string) bool {
	lastSpace := strings.LastIndexByte(s, ' ')
	last := s[lastSpace+1:]
	for _, a := range abbreviations {
		if strings.EqualFold(last, a) {
			return true
		}
	}
	return false
}

// CountWords returns the number of whitespace separated words
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// Segment partitions text into at most n segments of roughly equal word
// count without splitting a sentence. The target is recomputed after
// every segment from the words still unassigned, so an early overshoot is
// spread over the remaining segments instead of landing on the last one.
// A segment closes at whichever sentence boundary lies closest to the
// target, or earlier when the remaining sentences are only just enough to
// give every remaining slot one sentence.
func Segment(text string, n int) []entities.Segment {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}

	counts := make([]int, len(sentences))
	left := 0
	for i, s := range sentences {
		counts[i] = CountWords(s)
		left += counts[i]
	}
	target := (left + n - 1) / n

	segments := make([]entities.Segment, 0, n)
	var current []string
	words := 0
	flush := func() {
		segments = append(segments, entities.Segment{
			Index:     len(segments) + 1,
			Sentences: current,
			Text:      strings.Join(current, " "),
			Words:     words,
		})
		left -= words
		current = nil
		words = 0
		if slots := n - len(segments); slots > 0 {
			target = (left + slots - 1) / slots
		}
	}

	for i, s := range sentences {
		// Close before this sentence when that boundary is nearer the target.
		if len(current) > 0 && n-len(segments)-1 > 0 {
			under, over := target-words, words+counts[i]-target
			if over > 0 && under < over {
				flush()
			}
		}

		current = append(current, s)
		words += counts[i]

		remaining := len(sentences) - i - 1
		slots := n - len(segments) - 1
		if remaining == 0 || slots == 0 {
			continue
		}
		if words >= target || remaining <= slots {
			flush()
		}
	}
	if len(current) > 0 {
		flush()
	}
	return segments
}

// ChunkText packs whole sentences into chunks of at most maxLen bytes.
// A sentence longer than maxLen is split on commas, and a clause that is
// still too long is split at the last space before the limit, or at the
// limit itself when there is no space.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	add := func(piece string) {
		if current.Len() > 0 && current.Len()+1+len(piece) > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(piece)
	}

	for _, sentence := range SplitSentences(text) {
		if len(sentence) <= maxLen {
			add(sentence)
			continue
		}
		for _, clause := range splitClauses(sentence) {
			if len(clause) <= maxLen {
				add(clause)
				continue
			}
			for _, piece := range hardSplit(clause, maxLen) {
				add(piece)
			}
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitClauses splits on commas, keeping each comma with its clause
func splitClauses(sentence string) []string {
	var clauses []string
	for _, part := range strings.SplitAfter(sentence, ",") {
		if part = strings.TrimSpace(part); part != "" {
			clauses = append(clauses, part)
		}
	}
	return clauses
}

func hardSplit(s string, maxLen int) []string {
	var pieces []string
	for len(s) > maxLen {
		cut := strings.LastIndexByte(s[:maxLen+1], ' ')
		if cut <= 0 {
			cut = maxLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		if piece := strings.TrimSpace(s[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}
