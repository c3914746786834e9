// Package textproc turns raw narration scripts into text the synthesis
// worker can pronounce, and cuts that text into segments and chunks.
package textproc

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// punctuation variants that must become ASCII before non-ASCII is dropped
var canonical = strings.NewReplacer(
	"“", "\"",
	"”", "\"",
	"„", "\"",
	"«", "\"",
	"»", "\"",
	"‘", "'",
	"’", "'",
	"‚", "'",
	"′", "'",
	"´", "'",
	"`", "'",
	"‐", "-",
	"‑", "-",
	"‒", "-",
	"−", "-",
	"–", " - ",
	"—", " - ",
	"―", " - ",
	"•", " ",
	"→", " ",
	"←", " ",
	"&", " and ",
	"@", " at ",
	"%", " percent",
)

var (
	imagePattern    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	bracketPattern  = regexp.MustCompile(`\[[^\]]*\]`)
	headingPattern  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	quotePattern    = regexp.MustCompile(`(?m)^\s*>\s?`)
	symbolPattern   = regexp.MustCompile(`[*_#~|<>\[\]{}\\/^=]+`)
	spacePattern    = regexp.MustCompile(`\s+`)
	spacedPunctLike = regexp.MustCompile(` ([,.!?;:])`)
)

// Normalize rewrites text into plain pronounceable ASCII. It never fails
// and Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	text = norm.NFKD.String(text)
	text = canonical.Replace(text)
	text = stripMarkdown(text)
	text = SpellNumbers(text)
	text = stripNonASCII(text)

	text = spacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = spacedPunctLike.ReplaceAllString(text, "$1")
	// A leading dash or plus would read as a list bullet on the next pass
	return strings.TrimLeft(text, "-+ ")
}

func stripMarkdown(text string) string {
	text = imagePattern.ReplaceAllString(text, " ")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = urlPattern.ReplaceAllString(text, " ")
	// stage directions and metadata such as [Music] or [Title: ...]
	text = bracketPattern.ReplaceAllString(text, " ")
	text = headingPattern.ReplaceAllString(text, "")
	text = quotePattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "")
	return symbolPattern.ReplaceAllString(text, " ")
}

func stripNonASCII(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7F:
			b.WriteByte(' ')
		case r < 0x80:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanScript normalizes a whole script and drops sentences that repeat
// one of the few sentences right before them.
func CleanScript(script string) string {
	return strings.Join(DedupeSentences(SplitSentences(Normalize(script))), " ")
}

const dedupeWindow = 3

// DedupeSentences drops a sentence when it matches, ignoring case and
// punctuation, one of the previous kept sentences within a short window.
func DedupeSentences(sentences []string) []string {
	kept := make([]string, 0, len(sentences))
	keys := make([]string, 0, len(sentences))
	for _, s := range sentences {
		key := sentenceKey(s)
		duplicate := false
		for i := len(keys) - 1; i >= 0 && i >= len(keys)-dedupeWindow; i-- {
			if key != "" && keys[i] == key {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, s)
		keys = append(keys, key)
	}
	return kept
}

func sentenceKey(s string) string {
	return strings.Join(Words(s), " ")
}

// Words lower-cases s and returns its alphanumeric words
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' || r > 0x7F)
	})
}
