// Package normalize cleans text extracted from ticket PDFs and e-mails so the
// line-oriented detectors downstream see one token per airport and one
// HH:MM form per clock time.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"ticket_parser/internal/patterns"
)

// hspace is every horizontal whitespace character CollapseWhitespace folds.
const hspace = `[ \t\f\v\x{00A0}\x{2000}-\x{200A}\x{202F}\x{205F}\x{3000}]`

var (
	// Icons and glyphs that renderers put next to times and airports.
	iconRe = regexp.MustCompile(`[\x{E000}-\x{F8FF}\x{FFFD}\x{2708}\x{2709}\x{260E}\x{231A}\x{231B}\x{23F0}\x{25CF}\x{25A0}\x{25B6}\x{27A4}\x{2794}\x{2192}\x{1F300}-\x{1F6FF}\x{1F900}-\x{1F9FF}\x{FE0F}\x{200B}-\x{200D}]`)

	hyphenWrapRe  = regexp.MustCompile(`(\p{L})-` + hspace + `*\n` + hspace + `*(\p{L})`)
	horizontalWS  = regexp.MustCompile(hspace + `+`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	sixLetterRe   = regexp.MustCompile(`^[A-Z]{6}$`)
	fourDigitRe   = regexp.MustCompile(`\b\d{4}\b`)
	shortHourRe   = regexp.MustCompile(`(^|[^\d:])(\d):([0-5]\d)\b`)
	plusDayRe     = regexp.MustCompile(`(?i)[ \t]*\(\s*\+\s*1\s*days?\s*\)|[ \t]*\+\s*1\s*days?\b`)
	timePlusOneRe = regexp.MustCompile(`(\d{2}:\d{2})[ \t]*(?:\(\s*\+1\s*\)|\+1\b)`)
	monthBefore   = regexp.MustCompile(`(?i)(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s*$`)
)

// spacedCodeRes repairs letter-spaced airport codes for the fixed code set.
var spacedCodeRes = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(patterns.SpacedCodes))
	for _, code := range patterns.SpacedCodes {
		letters := strings.Split(strings.ToLower(code), "")
		m[code] = regexp.MustCompile(`(?i)\b` + strings.Join(letters, ` `) + `\b`)
	}
	return m
}()

// Text runs every normalisation step in order. It never fails and
// Text(Text(x)) == Text(x).
func Text(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = StripIcons(s)
	s = Dehyphenate(s)
	s = CollapseWhitespace(s)
	s = SplitGluedIATA(s)
	s = NormalizeTimes(s)
	s = TagNextDay(s)
	s = RepairSpacedCodes(s)
	return s
}

// StripIcons removes known icon and glyph codepoints.
func StripIcons(s string) string {
	return iconRe.ReplaceAllString(s, " ")
}

// Dehyphenate joins words broken across lines: "Johannes-\nburg" -> "Johannesburg".
// Chains like "a-\nb-\nc" share a letter between matches, so it repeats
// until nothing changes.
func Dehyphenate(s string) string {
	for {
		next := hyphenWrapRe.ReplaceAllString(s, "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}

// CollapseWhitespace squeezes horizontal runs to one space, trims each line
// and caps blank runs at one empty line.
func CollapseWhitespace(s string) string {
	s = horizontalWS.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SplitGluedIATA separates two glued airport codes ("CPTJNB" -> "CPT JNB").
// A six-letter token is split when a neighbouring token carries a digit, or
// when both halves are known airport codes. Ordinary words are never split.
func SplitGluedIATA(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		toks := strings.Split(line, " ")
		for j, tok := range toks {
			core := strings.Trim(tok, "(),.;:")
			if !sixLetterRe.MatchString(core) || commonWords[core] {
				continue
			}
			adjacent := (j > 0 && hasDigit(toks[j-1])) || (j+1 < len(toks) && hasDigit(toks[j+1]))
			if adjacent || (knownCodes[core[:3]] && knownCodes[core[3:]]) {
				toks[j] = strings.Replace(tok, core, core[:3]+" "+core[3:], 1)
			}
		}
		lines[i] = strings.Join(toks, " ")
	}
	return strings.Join(lines, "\n")
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

var knownCodes = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range patterns.BuiltinCities {
		m[c] = true
	}
	for _, c := range patterns.SpacedCodes {
		m[c] = true
	}
	return m
}()

// commonWords are six-letter uppercase words found next to numbers on tickets.
var commonWords = map[string]bool{
	"TICKET": true, "FLIGHT": true, "ARRIVE": true, "DEPART": true,
	"RETURN": true, "STATUS": true, "NUMBER": true, "AIRWAY": true,
	"TRAVEL": true, "ISSUED": true, "AMOUNT": true, "PERSON": true,
	"CHANGE": true, "REFUND": true, "RECORD": true, "AGENCY": true,
	"SEATNO": true, "CHECKS": true, "PIECES": true, "WEIGHT": true,
	"LONDON": true, "DURBAN": true, "GEORGE": true, "LUANDA": true,
	"LUSAKA": true, "HARARE": true, "ADULTS": true, "INFANT": true,
	"SUNDAY": true, "MONDAY": true, "FRIDAY": true, "DIRECT": true,
}

// NormalizeTimes rewrites clock-like four digit tokens as HH:MM and pads
// single-digit hours. Years after a month name, numbers inside dates and
// digit groups of phone or ticket numbers are left alone.
func NormalizeTimes(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range fourDigitRe.FindAllStringIndex(s, -1) {
		tok := s[loc[0]:loc[1]]
		if !isClock(tok) || !clockContext(s, loc[0], loc[1]) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(tok[:2] + ":" + tok[2:])
		last = loc[1]
	}
	b.WriteString(s[last:])
	return shortHourRe.ReplaceAllString(b.String(), "${1}0$2:$3")
}

func isClock(tok string) bool {
	h := int(tok[0]-'0')*10 + int(tok[1]-'0')
	m := int(tok[2]-'0')*10 + int(tok[3]-'0')
	return h <= 23 && m <= 59
}

func clockContext(s string, start, end int) bool {
	if start > 0 {
		switch s[start-1] {
		case '-', '/', '.', ':', ',', '+', '#':
			return false
		}
	}
	if end < len(s) {
		switch s[end] {
		case '-', '/', '.', ':', ',':
			if end+1 < len(s) && s[end+1] >= '0' && s[end+1] <= '9' {
				return false
			}
		}
	}
	lineStart := strings.LastIndexByte(s[:start], '\n') + 1
	before := s[lineStart:start]
	lineEnd := strings.IndexByte(s[end:], '\n')
	if lineEnd < 0 {
		lineEnd = len(s) - end
	}
	after := s[end : end+lineEnd]

	var prev, next string
	if fields := strings.Fields(before); len(fields) > 0 && strings.HasSuffix(before, " ") {
		prev = fields[len(fields)-1]
	}
	if fields := strings.Fields(after); len(fields) > 0 && strings.HasPrefix(after, " ") {
		next = fields[0]
	}

	// "Sep 2025" is a year; "28SEP 2030" is a departure time.
	if monthBefore.MatchString(before) && !compactDateTok.MatchString(prev) {
		return false
	}
	// Neighbouring digit groups that are not clocks: phone and card numbers.
	if blocksClock(prev) || blocksClock(next) {
		return false
	}
	if maskedGroup.MatchString(prev) || cardWords[strings.ToLower(prev)] {
		return false
	}
	// "28," before a year.
	if strings.HasSuffix(prev, ",") && prev != "" && prev[0] >= '0' && prev[0] <= '9' {
		return false
	}
	// "SA 2030" is a flight number.
	if len(prev) == 2 && patterns.IsKnownCarrier(prev) {
		return false
	}
	return true
}

var (
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	compactDateTok = regexp.MustCompile(`(?i)^\d{1,2}(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)(?:\d{2})?$`)
	maskedGroup    = regexp.MustCompile(`^[*xX\x{2022}]{2,}$`)
	cardWords      = map[string]bool{"ending": true, "card": true, "last": true, "visa": true, "mastercard": true, "amex": true, "no.": true, "tel": true, "tel:": true, "phone": true, "phone:": true}
)

func blocksClock(tok string) bool {
	if !digitsOnly.MatchString(tok) {
		return false
	}
	return len(tok) != 4 || !isClock(tok)
}

// TagNextDay rewrites "(+1 day)", "+1 day" and a "+1" following a time as NEXT_DAY.
func TagNextDay(s string) string {
	s = plusDayRe.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(m, " ") || strings.HasPrefix(m, "\t") {
			return " " + patterns.NextDayMarker
		}
		return patterns.NextDayMarker
	})
	return timePlusOneRe.ReplaceAllString(s, "$1 "+patterns.NextDayMarker)
}

// RepairSpacedCodes collapses letter-spaced codes such as "l h r" to "LHR".
func RepairSpacedCodes(s string) string {
	for _, code := range patterns.SpacedCodes {
		s = spacedCodeRes[code].ReplaceAllString(s, code)
	}
	return s
}
