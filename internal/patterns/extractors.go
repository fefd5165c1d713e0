package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ticket_parser/internal/ticket"
)

// FlightRef is a flight number with its byte offset in the text.
type FlightRef struct {
	Number string
	Pos    int
}

// ExtractFlightNumbers returns flight numbers in the order they are printed.
// Repeats of the same number are collapsed to the first occurrence.
func ExtractFlightNumbers(text string) []string {
	refs := FindFlightNumbers(text)
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Number)
	}
	return out
}

// FindFlightNumbers returns flight numbers with their positions.
func FindFlightNumbers(text string) []FlightRef {
	type hit struct {
		num string
		pos int
	}
	var hits []hit

	for _, m := range FlightLabelPattern.FindAllStringSubmatchIndex(text, -1) {
		code := strings.ToUpper(text[m[2]:m[3]])
		digits := strings.ToUpper(text[m[4]:m[5]])
		hits = append(hits, hit{num: code + digits, pos: m[2]})
	}

	for _, m := range FlightTokenPattern.FindAllStringSubmatchIndex(text, -1) {
		code := text[m[2]:m[3]]
		spaced := m[5] > m[4]
		digits := text[m[6]:m[7]]
		if !acceptFlightToken(code, digits, spaced) {
			continue
		}
		hits = append(hits, hit{num: code + digits, pos: m[2]})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool)
	if ref := ExtractBookingRef(text); ref != "" {
		seen[ref] = true
	}
	var out []FlightRef
	for _, h := range hits {
		if seen[h.num] {
			continue
		}
		seen[h.num] = true
		out = append(out, FlightRef{Number: h.num, Pos: h.pos})
	}
	return out
}

// acceptFlightToken filters unlabelled flight-number candidates. Known carriers
// are always accepted; unknown two-letter codes only when glued to the digits.
func acceptFlightToken(code, digits string, spaced bool) bool {
	if IsKnownCarrier(code) {
		return len(digits) >= 2 || !spaced
	}
	if spaced {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(digits) >= 2
}

// ExtractDurations maps each printed duration to the nearest preceding flight
// number (or the first following one when none precedes it).
func ExtractDurations(text string) map[string]string {
	flights := FindFlightNumbers(text)
	out := make(map[string]string)
	if len(flights) == 0 {
		return out
	}

	type dur struct {
		text string
		pos  int
	}
	var durs []dur
	for _, m := range LabelledDurationClockPattern.FindAllStringSubmatchIndex(text, -1) {
		h, _ := strconv.Atoi(text[m[2]:m[3]])
		min, _ := strconv.Atoi(text[m[4]:m[5]])
		durs = append(durs, dur{text: formatDuration(h, min), pos: m[0]})
	}
	for _, m := range DurationPattern.FindAllStringSubmatchIndex(text, -1) {
		h, _ := strconv.Atoi(text[m[2]:m[3]])
		min := 0
		if m[4] >= 0 {
			min, _ = strconv.Atoi(text[m[4]:m[5]])
		} else if !durationLabel.MatchString(lineAt(text, m[0])) {
			// A bare "24 hours" is usually check-in boilerplate.
			continue
		}
		durs = append(durs, dur{text: formatDuration(h, min), pos: m[0]})
	}

	for _, d := range durs {
		owner := ""
		for _, f := range flights {
			if f.Pos < d.pos {
				owner = f.Number
			}
		}
		if owner == "" {
			owner = flights[0].Number
		}
		if _, ok := out[owner]; !ok {
			out[owner] = d.text
		}
	}
	return out
}

var durationLabel = regexp.MustCompile(`(?i)\b(?:duration|flight\s*time|travel\s*time|non-?stop|direct)\b`)

func lineAt(text string, pos int) string {
	start := strings.LastIndexByte(text[:pos], '\n') + 1
	end := strings.IndexByte(text[pos:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : pos+end]
}

func formatDuration(h, m int) string {
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}

// ExtractTerminals returns terminal identifiers in printed order.
func ExtractTerminals(text string) []string {
	var out []string
	for _, m := range TerminalPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToUpper(m[1]))
	}
	return out
}

// refStopWords are uppercase words that follow booking labels but are not references.
var refStopWords = map[string]bool{
	"NUMBER": true, "DETAILS": true, "STATUS": true, "CODE": true,
	"REFERENCE": true, "DATE": true, "TICKET": true, "AGENT": true,
}

// ExtractBookingRef returns the first labelled booking reference.
func ExtractBookingRef(text string) string {
	for _, m := range BookingRefPattern.FindAllStringSubmatch(text, -1) {
		if ref := acceptRef(m[1]); ref != "" {
			return ref
		}
	}
	return ""
}

// ExtractAirlineLocator returns an airline-issued locator if printed separately.
func ExtractAirlineLocator(text string) string {
	if m := AirlineLocatorPattern.FindStringSubmatch(text); m != nil {
		return acceptRef(m[1])
	}
	return ""
}

func acceptRef(s string) string {
	if s != strings.ToUpper(s) || refStopWords[s] {
		return ""
	}
	return s
}

// ExtractPassengers returns passengers named in slash or labelled form.
func ExtractPassengers(text string) []ticket.Passenger {
	var out []ticket.Passenger
	seen := make(map[string]bool)

	add := func(p ticket.Passenger, line string) {
		if p.FullName == "" || IsBlacklistedName(p.FullName) {
			return
		}
		key := strings.ToUpper(p.FullName)
		if seen[key] {
			return
		}
		seen[key] = true
		if m := PaxTypePattern.FindStringSubmatch(line); m != nil {
			p.Type = m[1]
		}
		if m := TicketNumberPattern.FindStringSubmatch(line); m != nil {
			p.TicketNumber = m[1] + "-" + m[2]
		}
		out = append(out, p)
	}

	for _, line := range strings.Split(text, "\n") {
		for _, m := range SlashNamePattern.FindAllStringSubmatch(line, -1) {
			surname := strings.TrimSpace(m[1])
			given, title := splitGivenName(m[2])
			if given == "" || nameStopWords[surname] || nameStopWords[given] {
				continue
			}
			add(ticket.Passenger{
				FullName:  strings.TrimSpace(given + " " + surname),
				Title:     title,
				GivenName: given,
				Surname:   surname,
			}, line)
		}
		if m := LabelledNamePattern.FindStringSubmatch(line); m != nil {
			raw := strings.TrimSpace(m[1])
			if strings.Contains(raw, "/") {
				continue
			}
			add(passengerFromWords(raw), line)
		}
	}

	if len(out) > 0 {
		tickets := TicketNumberPattern.FindAllStringSubmatch(text, -1)
		if len(tickets) == len(out) {
			for i := range out {
				if out[i].TicketNumber == "" {
					out[i].TicketNumber = tickets[i][1] + "-" + tickets[i][2]
				}
			}
		}
	}
	return out
}

var nameStopWords = map[string]bool{"AND": true, "OR": true, "TO": true, "FROM": true}

// splitGivenName cuts the given-name run at the first title or passenger type.
func splitGivenName(run string) (given, title string) {
	fields := strings.Fields(run)
	for i, f := range fields {
		if Titles[f] {
			return strings.Join(fields[:i], " "), f
		}
		if PaxTypePattern.MatchString(f) {
			return strings.Join(fields[:i], " "), ""
		}
	}
	return strings.Join(fields, " "), ""
}

func passengerFromWords(raw string) ticket.Passenger {
	fields := strings.Fields(raw)
	var title string
	if len(fields) > 0 && Titles[strings.ToUpper(strings.TrimSuffix(fields[0], "."))] {
		title = strings.ToUpper(strings.TrimSuffix(fields[0], "."))
		fields = fields[1:]
	}
	// Drop anything after a type code or the first non-name token.
	for i, f := range fields {
		if PaxTypePattern.MatchString(f) || strings.ContainsAny(f, "0123456789") {
			fields = fields[:i]
			break
		}
	}
	if len(fields) > 4 {
		fields = fields[:4]
	}
	p := ticket.Passenger{Title: title, FullName: strings.Join(fields, " ")}
	if len(fields) >= 2 {
		p.GivenName = strings.Join(fields[:len(fields)-1], " ")
		p.Surname = fields[len(fields)-1]
	}
	return p
}

// ExtractBaggage returns the first baggage allowance string.
func ExtractBaggage(text string) string {
	if m := BaggagePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ExtractPayments returns payment totals and card references.
func ExtractPayments(text string) []ticket.Payment {
	var out []ticket.Payment
	totals := TotalPattern.FindAllStringSubmatch(text, -1)
	cards := CardPattern.FindAllStringSubmatch(text, -1)

	for i, m := range totals {
		amt, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		p := ticket.Payment{Currency: strings.ToUpper(m[1]), Amount: amt}
		if i < len(cards) {
			p.Method = canonicalCard(cards[i][1])
			p.Last4 = cards[i][2]
		}
		out = append(out, p)
	}
	for i := len(totals); i < len(cards); i++ {
		out = append(out, ticket.Payment{Method: canonicalCard(cards[i][1]), Last4: cards[i][2]})
	}
	return out
}

func canonicalCard(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	switch s {
	case "AMERICANEXPRESS":
		return "AMEX"
	case "MASTERCARD":
		return "MASTERCARD"
	}
	return s
}

// ExtractFareDetails returns fare basis and restriction notes, or nil.
func ExtractFareDetails(text string) *ticket.FareDetails {
	var fd ticket.FareDetails
	if m := FareBasisPattern.FindStringSubmatch(text); m != nil {
		fd.FareBasis = strings.ToUpper(m[1])
	}
	seen := make(map[string]bool)
	for _, m := range FareNotePattern.FindAllStringSubmatch(text, -1) {
		note := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
		if !seen[note] {
			seen[note] = true
			fd.Notes = append(fd.Notes, note)
		}
	}
	if fd.FareBasis == "" && len(fd.Notes) == 0 {
		return nil
	}
	return &fd
}

// ExtractCabins returns cabin names in printed order.
func ExtractCabins(text string) []string {
	var out []string
	for _, m := range CabinPattern.FindAllStringSubmatch(text, -1) {
		cabin := strings.Join(strings.Fields(m[1]), " ")
		if i := strings.LastIndex(strings.ToLower(cabin), " class"); i > 0 {
			cabin = cabin[:i]
		}
		out = append(out, cabin)
	}
	return out
}

// ExtractBookingClasses returns single-letter booking classes in printed order.
func ExtractBookingClasses(text string) []string {
	var out []string
	for _, m := range BookingClassPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToUpper(m[1]))
	}
	return out
}

// DateRef is a calendar date printed at a given line.
type DateRef struct {
	Line int
	Date string // YYYY-MM-DD
}

// ExtractDates finds printed dates line by line. Dates without a year take the
// year of ref, rolling forward when that lands more than 60 days in the past.
func ExtractDates(text string, ref time.Time) []DateRef {
	var out []DateRef
	for i, line := range strings.Split(text, "\n") {
		if d, ok := ParseDate(line, ref); ok {
			out = append(out, DateRef{Line: i, Date: d})
		}
	}
	return out
}

// ParseDate returns the first date found in s formatted as YYYY-MM-DD.
func ParseDate(s string, ref time.Time) (string, bool) {
	if m := ISODatePattern.FindStringSubmatch(s); m != nil {
		return validDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := LongDatePattern.FindStringSubmatch(s); m != nil {
		return validDate(atoi(m[3]), MonthNames[strings.ToUpper(m[2])], atoi(m[1]))
	}
	if m := MonthFirstPattern.FindStringSubmatch(s); m != nil {
		return validDate(atoi(m[3]), MonthNames[strings.ToUpper(m[1])], atoi(m[2]))
	}
	if m := SlashDatePattern.FindStringSubmatch(s); m != nil {
		return validDate(atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := CompactDatePattern.FindStringSubmatch(s); m != nil {
		day, month := atoi(m[1]), MonthNames[m[2]]
		if m[3] != "" {
			return validDate(2000+atoi(m[3]), month, day)
		}
		return dateWithoutYear(month, day, ref)
	}
	return "", false
}

func dateWithoutYear(month, day int, ref time.Time) (string, bool) {
	if ref.IsZero() {
		ref = time.Now()
	}
	year := ref.Year()
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	if refDay.Sub(d) > 60*24*time.Hour {
		year++
	}
	return validDate(year, month, day)
}

func validDate(y, m, d int) (string, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
