// Package waypoint turns normalised ticket text into ordered time/airport
// observations and pairs them into flight legs.
package waypoint

import (
	"strings"
	"time"

	"ticket_parser/internal/patterns"
	"ticket_parser/internal/ticket"
)

// window is how many lines after a time line are searched for flags.
const window = 3

// Detect scans text line by line for "HH:MM <city>" lines and resolves each to
// an airport code. Output order is line order.
func Detect(text string, cities patterns.CityMap) ([]ticket.Waypoint, ticket.Diagnostics) {
	return DetectDated(text, cities, time.Time{})
}

// DetectDated is Detect with a reference date for printed dates lacking a year.
func DetectDated(text string, cities patterns.CityMap, ref time.Time) ([]ticket.Waypoint, ticket.Diagnostics) {
	var diags ticket.Diagnostics
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	timeLines := make([]bool, len(lines))
	for i, l := range lines {
		timeLines[i] = patterns.TimeLinePattern.MatchString(l)
	}

	var out []ticket.Waypoint
	seen := make(map[string]bool)

	for i, line := range lines {
		if !timeLines[i] {
			continue
		}
		m := patterns.TimeLinePattern.FindStringSubmatch(line)
		clock := m[1] + ":" + m[2]
		rest := m[3]

		end := i
		for j := i + 1; j <= i+window && j < len(lines) && !timeLines[j]; j++ {
			end = j
		}

		wp := ticket.Waypoint{Time: clock, Ordinal: i}
		scanFlags(&wp, rest)
		for j := i + 1; j <= end; j++ {
			scanFlags(&wp, lines[j])
		}
		if i > 0 && lines[i-1] == patterns.NextDayMarker && !claimedMarker(timeLines, i-1) {
			wp.IsNextDay = true
		}

		guess := cityGuess(rest)
		code := resolve(rest, guess, lines[i+1:end+1], cities)
		if code == "" {
			if guess != "" {
				diags.Warnf(ticket.StageWaypoint, "line %d: unresolved location %q at %s", i+1, guess, clock)
			} else {
				diags.Warnf(ticket.StageWaypoint, "line %d: time %s has no location", i+1, clock)
			}
			continue
		}
		wp.Location = code
		wp.City = guess
		if wp.City == "" {
			wp.City = cities.CityFor(code)
		}
		wp.Date = printedDate(lines, timeLines, i, ref)

		key := wp.Time + "|" + wp.Location
		if seen[key] {
			diags.Infof(ticket.StageWaypoint, "line %d: duplicate waypoint %s %s skipped", i+1, wp.Time, wp.Location)
			continue
		}
		seen[key] = true
		out = append(out, wp)
	}
	return out, diags
}

// scanFlags sets next-day and terminal flags from one line.
func scanFlags(wp *ticket.Waypoint, line string) {
	if strings.Contains(line, patterns.NextDayMarker) {
		wp.IsNextDay = true
	}
	if wp.Terminal == "" {
		if m := patterns.TerminalPattern.FindStringSubmatch(line); m != nil {
			wp.Terminal = strings.ToUpper(m[1])
		}
	}
}

// claimedMarker reports whether a marker line falls inside the forward window
// of an earlier time line.
func claimedMarker(timeLines []bool, marker int) bool {
	for p := marker - 1; p >= 0 && p >= marker-window; p-- {
		if timeLines[p] {
			return true
		}
	}
	return false
}

// resolve picks the airport code for a time line: a code in parentheses on the
// same or following lines, then the built-in city table, then the document map.
func resolve(rest, guess string, following []string, cities patterns.CityMap) string {
	if m := patterns.ParenIATAPattern.FindStringSubmatch(rest); m != nil && patterns.IsValidIATA(m[1]) {
		return m[1]
	}
	for _, l := range following {
		if m := patterns.ParenIATAPattern.FindStringSubmatch(l); m != nil && patterns.IsValidIATA(m[1]) {
			return m[1]
		}
	}
	if guess == "" {
		return ""
	}
	if code, ok := patterns.LookupCity(guess); ok {
		return code
	}
	if code, ok := cities.Resolve(guess); ok {
		return code
	}
	return ""
}

// cityGuess strips markers, terminals and codes from the text after the time.
func cityGuess(rest string) string {
	s := strings.ReplaceAll(rest, patterns.NextDayMarker, " ")
	s = patterns.TerminalPattern.ReplaceAllString(s, " ")
	s = patterns.ParenIATAPattern.ReplaceAllString(s, " ")
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " -,.:")
	return s
}

// printedDate looks for a date on the time line itself, then on the lines
// above it back to the previous time line.
func printedDate(lines []string, timeLines []bool, i int, ref time.Time) string {
	if d, ok := patterns.ParseDate(lines[i], ref); ok {
		return d
	}
	for j := i - 1; j >= 0 && j >= i-2 && !timeLines[j]; j-- {
		if d, ok := patterns.ParseDate(lines[j], ref); ok {
			return d
		}
	}
	return ""
}
