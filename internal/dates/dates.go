// Package dates fills calendar dates missing from stitched segments and
// checks the resulting itinerary for chronology problems.
package dates

import (
	"fmt"
	"time"

	"ticket_parser/internal/ticket"
)

// Layout is the calendar date layout used on endpoints.
const Layout = "2006-01-02"

const (
	// OvernightThreshold is how much earlier an arrival clock must be than its
	// departure clock before the arrival is moved to the next day.
	OvernightThreshold = 12 * time.Hour

	// ConnectionBuffer is how much earlier a connecting departure clock may be
	// than the previous arrival clock and still be treated as the same day.
	ConnectionBuffer = 2 * time.Hour

	MinLayover = 30 * time.Minute
	MaxLayover = 48 * time.Hour
)

// Options controls the context used when a segment has no date at all.
type Options struct {
	// BaseDate anchors the first undated departure when set.
	BaseDate time.Time
	// Now is used when neither BaseDate nor any printed date is available.
	// Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Infer returns a copy of segs with absent dates filled in document order.
// Dates already present are never changed. Chronology is validated on the
// result and returned alongside it.
func Infer(segs []ticket.Segment, opts Options) ([]ticket.Segment, []ChronologyWarning, ticket.Diagnostics) {
	var diags ticket.Diagnostics
	out := append([]ticket.Segment(nil), segs...)

	for i := range out {
		seg := &out[i]

		if !seg.Dep.HasDate() {
			if seg.Arr.HasDate() {
				inferDeparture(seg)
			} else if i > 0 && out[i-1].Arr.HasDate() {
				inferConnection(seg, out[i-1].Arr)
			} else {
				anchor(seg, i, out, opts, &diags)
			}
		}

		if !seg.Arr.HasDate() && seg.Dep.HasDate() {
			inferArrival(seg)
		}
	}

	warnings := Validate(out)
	for _, w := range warnings {
		diags.Warnf(ticket.StageDates, "%s", w.Message)
	}
	return out, warnings, diags
}

// inferConnection dates a departure from the previous segment's arrival.
func inferConnection(seg *ticket.Segment, prevArr ticket.Endpoint) {
	d, err := time.Parse(Layout, prevArr.Date)
	if err != nil {
		return
	}
	prevMin, okPrev := clockMinutes(prevArr.TimeLocal)
	depMin, okDep := clockMinutes(seg.Dep.TimeLocal)
	if seg.Dep.NextDay || (okPrev && okDep && time.Duration(prevMin-depMin)*time.Minute > ConnectionBuffer) {
		d = d.AddDate(0, 0, 1)
	}
	seg.Dep.Date = d.Format(Layout)
	seg.Dep.DateSource = ticket.DateInferred
}

// inferDeparture dates a departure from its own arrival, mirroring the
// overnight rule in inferArrival.
func inferDeparture(seg *ticket.Segment) {
	d, err := time.Parse(Layout, seg.Arr.Date)
	if err != nil {
		return
	}
	depMin, okDep := clockMinutes(seg.Dep.TimeLocal)
	arrMin, okArr := clockMinutes(seg.Arr.TimeLocal)
	if seg.Arr.NextDay || (okDep && okArr && time.Duration(depMin-arrMin)*time.Minute > OvernightThreshold) {
		d = d.AddDate(0, 0, -1)
	}
	seg.Dep.Date = d.Format(Layout)
	seg.Dep.DateSource = lower(seg.Arr.DateSource)
}

// anchor dates a departure that has no arrival to work from: the caller's
// base date, then the first later printed date, then now.
func anchor(seg *ticket.Segment, i int, segs []ticket.Segment, opts Options, diags *ticket.Diagnostics) {
	if !opts.BaseDate.IsZero() {
		seg.Dep.Date = opts.BaseDate.Format(Layout)
		seg.Dep.DateSource = ticket.DateInferred
		return
	}
	for j := i + 1; j < len(segs); j++ {
		for _, e := range []ticket.Endpoint{segs[j].Dep, segs[j].Arr} {
			if e.DateSource == ticket.DateExplicit && e.HasDate() {
				seg.Dep.Date = e.Date
				seg.Dep.DateSource = ticket.DateInferred
				diags.Infof(ticket.StageDates, "segment %d: departure date borrowed from segment %d", i+1, j+1)
				return
			}
		}
	}
	seg.Dep.Date = opts.now().Format(Layout)
	seg.Dep.DateSource = ticket.DateFallback
	diags.Warnf(ticket.StageDates, "segment %d: no date context, using current date %s", i+1, seg.Dep.Date)
}

// inferArrival dates an arrival from its own departure.
func inferArrival(seg *ticket.Segment) {
	d, err := time.Parse(Layout, seg.Dep.Date)
	if err != nil {
		return
	}
	depMin, okDep := clockMinutes(seg.Dep.TimeLocal)
	arrMin, okArr := clockMinutes(seg.Arr.TimeLocal)
	if seg.Arr.NextDay || (okDep && okArr && time.Duration(depMin-arrMin)*time.Minute > OvernightThreshold) {
		d = d.AddDate(0, 0, 1)
	}
	seg.Arr.Date = d.Format(Layout)
	seg.Arr.DateSource = lower(seg.Dep.DateSource)
}

// lower keeps fallback-derived dates marked as fallback.
func lower(src ticket.DateSource) ticket.DateSource {
	if src == ticket.DateFallback {
		return ticket.DateFallback
	}
	return ticket.DateInferred
}

// clockMinutes parses "HH:MM" into minutes after midnight.
func clockMinutes(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// At combines an endpoint's date and local time. ok is false when either is
// missing or malformed.
func At(e ticket.Endpoint) (time.Time, bool) {
	if e.Date == "" || e.TimeLocal == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(Layout+" 15:04", e.Date+" "+e.TimeLocal)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WarningKind classifies a chronology problem.
type WarningKind string

const (
	WarnOrder   WarningKind = "order"
	WarnLayover WarningKind = "layover"
)

// ChronologyWarning is a non-fatal problem between segment Index and the one
// after it.
type ChronologyWarning struct {
	Index   int           `json:"index"`
	Kind    WarningKind   `json:"kind"`
	Gap     time.Duration `json:"gap"`
	Message string        `json:"message"`
}

// Validate walks consecutive segments checking that each arrival strictly
// precedes the next departure and that the layover is plausible. Pairs with an
// unresolvable date or time are skipped.
func Validate(segs []ticket.Segment) []ChronologyWarning {
	var out []ChronologyWarning
	for i := 0; i+1 < len(segs); i++ {
		arr, ok1 := At(segs[i].Arr)
		dep, ok2 := At(segs[i+1].Dep)
		if !ok1 || !ok2 {
			continue
		}
		gap := dep.Sub(arr)
		route := fmt.Sprintf("%s %s -> %s %s", segs[i].MarketingFlightNo, segs[i].Arr.IATA, segs[i+1].MarketingFlightNo, segs[i+1].Dep.IATA)
		switch {
		case gap <= 0:
			out = append(out, ChronologyWarning{
				Index:   i,
				Kind:    WarnOrder,
				Gap:     gap,
				Message: fmt.Sprintf("%s: arrival %s is not before next departure %s", route, arr.Format(Layout+" 15:04"), dep.Format(Layout+" 15:04")),
			})
		case gap < MinLayover || gap > MaxLayover:
			out = append(out, ChronologyWarning{
				Index:   i,
				Kind:    WarnLayover,
				Gap:     gap,
				Message: fmt.Sprintf("%s: implausible layover %s", route, gap),
			})
		}
	}
	return out
}
