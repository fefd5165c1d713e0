package pipeline

import (
	"strings"

	"ticket_parser/internal/patterns"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/ticket"
)

// Merge copies the named missing fields from extra into a clone of base.
// Fields not listed are left as base has them. Per-segment fields are only
// merged when both tickets have the same number of segments.
func Merge(base, extra *ticket.ParsedTicket, missing []string) *ticket.ParsedTicket {
	if base == nil {
		return extra.Clone()
	}
	out := base.Clone()
	if extra == nil {
		return out
	}

	sameShape := len(out.Segments) == len(extra.Segments)
	for _, field := range missing {
		switch field {
		case quality.FieldBookingRef:
			if extra.BookingRef != "" {
				out.BookingRef = extra.BookingRef
			}
		case quality.FieldPassengers, quality.FieldPassengerNames:
			if len(extra.Passengers) > 0 {
				out.Passengers = append([]ticket.Passenger(nil), extra.Passengers...)
			}
		case quality.FieldSegments:
			if len(extra.Segments) > 0 {
				out.Segments = append([]ticket.Segment(nil), extra.Segments...)
			}
		case quality.FieldFlightNumbers:
			if sameShape {
				for i := range out.Segments {
					if !validFlight(out.Segments[i].MarketingFlightNo) {
						out.Segments[i].MarketingFlightNo = extra.Segments[i].MarketingFlightNo
					}
				}
			}
		case quality.FieldAirports:
			if sameShape {
				for i := range out.Segments {
					mergeAirport(&out.Segments[i].Dep, extra.Segments[i].Dep)
					mergeAirport(&out.Segments[i].Arr, extra.Segments[i].Arr)
				}
			}
		case quality.FieldSegmentDates:
			if sameShape {
				for i := range out.Segments {
					mergeDate(&out.Segments[i].Dep, extra.Segments[i].Dep)
					mergeDate(&out.Segments[i].Arr, extra.Segments[i].Arr)
				}
			}
		}
	}
	if out.Carrier == "" {
		out.Carrier = extra.Carrier
	}
	return out
}

func validFlight(fn string) bool {
	return patterns.FlightNumberShape.MatchString(strings.ToUpper(strings.ReplaceAll(fn, " ", "")))
}

func mergeAirport(dst *ticket.Endpoint, src ticket.Endpoint) {
	if !patterns.IsValidIATA(dst.IATA) && patterns.IsValidIATA(src.IATA) {
		dst.IATA = src.IATA
	}
}

// mergeDate replaces a missing or fallback date. A fallback date with no
// replacement is cleared so inference reruns from the merged neighbours.
func mergeDate(dst *ticket.Endpoint, src ticket.Endpoint) {
	if dst.HasDate() && dst.DateSource != ticket.DateFallback {
		return
	}
	if src.HasDate() {
		dst.Date, dst.DateSource = src.Date, src.DateSource
		if dst.DateSource == "" {
			dst.DateSource = ticket.DateExplicit
		}
		return
	}
	dst.Date, dst.DateSource = "", ""
}
