package waypoint

import (
	"errors"

	"ticket_parser/internal/ticket"
)

// ErrNoLegData is returned when there is nothing at all to build legs from.
var ErrNoLegData = errors.New("no waypoints and no flight numbers")

// Stitch pairs waypoints[2i] (departure) with waypoints[2i+1] (arrival).
// Flight numbers attach by ordinal position and durations by flight number.
func Stitch(wps []ticket.Waypoint, flightNos []string, durations map[string]string) ([]ticket.FlightLeg, ticket.Diagnostics, error) {
	var diags ticket.Diagnostics
	if len(wps) == 0 && len(flightNos) == 0 {
		return nil, diags, ErrNoLegData
	}
	if len(wps)%2 != 0 {
		last := wps[len(wps)-1]
		diags.Warnf(ticket.StageStitch, "odd waypoint count %d: dropping trailing %s %s", len(wps), last.Time, last.Location)
	}

	n := len(wps) / 2
	if n == 0 {
		diags.Warnf(ticket.StageStitch, "%d flight numbers but no complete waypoint pair", len(flightNos))
		return nil, diags, nil
	}

	legs := make([]ticket.FlightLeg, 0, n)
	for i := 0; i < n; i++ {
		leg := ticket.FlightLeg{
			Departure: wps[2*i],
			Arrival:   wps[2*i+1],
		}
		if i < len(flightNos) {
			leg.FlightNumber = flightNos[i]
			if d, ok := durations[leg.FlightNumber]; ok {
				leg.DurationText = d
			}
		} else {
			diags.Warnf(ticket.StageStitch, "leg %d %s-%s has no flight number", i+1, leg.Departure.Location, leg.Arrival.Location)
		}
		legs = append(legs, leg)
	}
	if len(flightNos) > n {
		diags.Warnf(ticket.StageStitch, "%d flight numbers for %d legs", len(flightNos), n)
	}
	return legs, diags, nil
}

// Segments converts legs to segments carrying printed dates as explicit.
// Calendar gaps are filled later by date inference.
func Segments(legs []ticket.FlightLeg) []ticket.Segment {
	out := make([]ticket.Segment, 0, len(legs))
	for _, leg := range legs {
		out = append(out, ticket.Segment{
			MarketingFlightNo: leg.FlightNumber,
			Dep:               endpoint(leg.Departure),
			Arr:               endpoint(leg.Arrival),
			Duration:          leg.DurationText,
		})
	}
	return out
}

func endpoint(wp ticket.Waypoint) ticket.Endpoint {
	e := ticket.Endpoint{
		IATA:      wp.Location,
		City:      wp.City,
		Terminal:  wp.Terminal,
		TimeLocal: wp.Time,
		NextDay:   wp.IsNextDay,
	}
	if wp.Date != "" {
		e.Date = wp.Date
		e.DateSource = ticket.DateExplicit
	}
	return e
}

// AttachCabins assigns cabins and booking classes positionally when their
// count matches the segment count, or broadcasts a single value to every segment.
func AttachCabins(segs []ticket.Segment, cabins, classes []string) {
	assign := func(vals []string, set func(*ticket.Segment, string)) {
		switch {
		case len(vals) == len(segs):
			for i := range segs {
				set(&segs[i], vals[i])
			}
		case len(vals) > 0 && allSame(vals):
			for i := range segs {
				set(&segs[i], vals[0])
			}
		}
	}
	assign(cabins, func(s *ticket.Segment, v string) { s.Cabin = v })
	assign(classes, func(s *ticket.Segment, v string) { s.BookingClass = v })
}

func allSame(vals []string) bool {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}
