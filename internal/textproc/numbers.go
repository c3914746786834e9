package textproc

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	smallNumbers = []string{
		"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
		"seventeen", "eighteen", "nineteen",
	}
	tensNumbers = []string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
	irregularOrdinals = map[string]string{
		"one":    "first",
		"two":    "second",
		"three":  "third",
		"five":   "fifth",
		"eight":  "eighth",
		"nine":   "ninth",
		"twelve": "twelfth",
	}
	scales = []struct {
		value int64
		name  string
	}{
		{1_000_000_000_000, "trillion"},
		{1_000_000_000, "billion"},
		{1_000_000, "million"},
		{1_000, "thousand"},
	}
)

var (
	currencyPattern = regexp.MustCompile(`\$(\d[\d,]*)(?:\.(\d{1,2}))?`)
	decadePattern   = regexp.MustCompile(`\b(\d{4})s\b`)
	ordinalPattern  = regexp.MustCompile(`(?i)\b(\d+)(st|nd|rd|th)\b`)
	groupedPattern  = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+`)
	decimalPattern  = regexp.MustCompile(`(\d+)\.(\d+)`)
	integerPattern  = regexp.MustCompile(`\d+`)
)

// maxCardinalDigits bounds what is read as a quantity; longer digit runs
// are read one digit at a time
const maxCardinalDigits = 15

// SpellNumbers replaces every numeral in text with English words. Four
// digit numbers from 1000 to 9999 read like years.
func SpellNumbers(text string) string {
	text = currencyPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := currencyPattern.FindStringSubmatch(m)
		whole := spellDigits(strings.ReplaceAll(parts[1], ",", ""))
		out := whole + " dollars"
		if whole == "one" {
			out = "one dollar"
		}
		if parts[2] != "" {
			cents, _ := strconv.Atoi(parts[2])
			if len(parts[2]) == 1 {
				cents *= 10
			}
			if cents > 0 {
				out += " and " + Cardinal(int64(cents)) + " cents"
			}
		}
		return " " + out + " "
	})

	text = decadePattern.ReplaceAllStringFunc(text, func(m string) string {
		n, _ := strconv.Atoi(m[:4])
		return pluralize(Year(n))
	})

	text = ordinalPattern.ReplaceAllStringFunc(text, func(m string) string {
		digits := ordinalPattern.FindStringSubmatch(m)[1]
		if len(digits) > maxCardinalDigits {
			return spellEachDigit(digits)
		}
		n, _ := strconv.ParseInt(digits, 10, 64)
		return Ordinal(n)
	})

	text = groupedPattern.ReplaceAllStringFunc(text, func(m string) string {
		return spellDigits(strings.ReplaceAll(m, ",", ""))
	})

	text = decimalPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := decimalPattern.FindStringSubmatch(m)
		return spellDigits(parts[1]) + " point " + spellEachDigit(parts[2])
	})

	return integerPattern.ReplaceAllStringFunc(text, func(m string) string {
		if len(m) == 4 && m[0] != '0' {
			n, _ := strconv.Atoi(m)
			return Year(n)
		}
		return spellDigits(m)
	})
}

func spellDigits(digits string) string {
	if len(digits) > maxCardinalDigits {
		return spellEachDigit(digits)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return spellEachDigit(digits)
	}
	return Cardinal(n)
}

func spellEachDigit(digits string) string {
	words := make([]string, 0, len(digits))
	for _, d := range digits {
		if d >= '0' && d <= '9' {
			words = append(words, smallNumbers[d-'0'])
		}
	}
	return strings.Join(words, " ")
}

// Cardinal spells out n, e.g. 1204 as "one thousand two hundred four"
func Cardinal(n int64) string {
	if n == 0 {
		return "zero"
	}
	if n < 0 {
		return "minus " + Cardinal(-n)
	}

	var parts []string
	for _, s := range scales {
		if n >= s.value {
			parts = append(parts, Cardinal(n/s.value)+" "+s.name)
			n %= s.value
		}
	}
	if n >= 100 {
		parts = append(parts, smallNumbers[n/100]+" hundred")
		n %= 100
	}
	if n > 0 {
		parts = append(parts, underHundred(int(n)))
	}
	return strings.Join(parts, " ")
}

func underHundred(n int) string {
	if n < 20 {
		return smallNumbers[n]
	}
	word := tensNumbers[n/10]
	if n%10 != 0 {
		word += "-" + smallNumbers[n%10]
	}
	return word
}

// Ordinal spells out n as an ordinal, e.g. 21 as "twenty-first"
func Ordinal(n int64) string {
	words := Cardinal(n)
	cut := strings.LastIndexAny(words, " -") + 1
	head, last := words[:cut], words[cut:]
	if irregular, ok := irregularOrdinals[last]; ok {
		return head + irregular
	}
	if strings.HasSuffix(last, "y") {
		return head + strings.TrimSuffix(last, "y") + "ieth"
	}
	return head + last + "th"
}

// Year reads a four digit number the way years are spoken: 1347 is
// "thirteen forty-seven", 1905 is "nineteen oh five", 2005 is
// "two thousand five".
func Year(n int) string {
	if n < 1000 || n > 9999 {
		return Cardinal(int64(n))
	}
	high, low := n/100, n%100
	switch {
	case n%1000 == 0:
		return Cardinal(int64(n))
	case n >= 2000 && n < 2010:
		return Cardinal(int64(n))
	case low == 0:
		return underHundred(high) + " hundred"
	case low < 10:
		return underHundred(high) + " oh " + smallNumbers[low]
	default:
		return underHundred(high) + " " + underHundred(low)
	}
}

func pluralize(words string) string {
	if strings.HasSuffix(words, "y") {
		return strings.TrimSuffix(words, "y") + "ies"
	}
	return words + "s"
}
