package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/quality"
	"ticket_parser/internal/ticket"
)

func TestMergeOnlyMissingFields(t *testing.T) {
	base := &ticket.ParsedTicket{
		BookingRef: "X7KQ",
		Passengers: []ticket.Passenger{{FullName: "JOHN SMITH"}},
	}
	extra := &ticket.ParsedTicket{
		Carrier:    "SA",
		BookingRef: "X7KQ2M",
		Passengers: []ticket.Passenger{{FullName: "JANE DOE"}},
	}

	out := Merge(base, extra, []string{quality.FieldBookingRef})
	assert.Equal(t, "X7KQ2M", out.BookingRef)
	assert.Equal(t, "JOHN SMITH", out.Passengers[0].FullName)
	assert.Equal(t, "SA", out.Carrier)

	// base is untouched
	assert.Equal(t, "X7KQ", base.BookingRef)
}

func TestMergePerSegmentFields(t *testing.T) {
	base := &ticket.ParsedTicket{Segments: []ticket.Segment{{
		MarketingFlightNo: "S@53",
		Dep:               ticket.Endpoint{IATA: "ACC", Date: "2025-09-01", DateSource: ticket.DateFallback},
		Arr:               ticket.Endpoint{IATA: "XX"},
	}}}
	extra := &ticket.ParsedTicket{Segments: []ticket.Segment{{
		MarketingFlightNo: "SA053",
		Dep:               ticket.Endpoint{IATA: "LOS", Date: "2025-09-28"},
		Arr:               ticket.Endpoint{IATA: "JNB"},
	}}}

	out := Merge(base, extra, []string{quality.FieldFlightNumbers, quality.FieldAirports, quality.FieldSegmentDates})
	require.Len(t, out.Segments, 1)
	s := out.Segments[0]
	assert.Equal(t, "SA053", s.MarketingFlightNo)
	assert.Equal(t, "ACC", s.Dep.IATA, "valid airport kept")
	assert.Equal(t, "JNB", s.Arr.IATA)
	assert.Equal(t, "2025-09-28", s.Dep.Date)
	assert.Equal(t, ticket.DateExplicit, s.Dep.DateSource)
}

func TestMergeClearsUnreplacedFallbackDate(t *testing.T) {
	base := &ticket.ParsedTicket{Segments: []ticket.Segment{{
		Dep: ticket.Endpoint{IATA: "ACC", Date: "2025-09-01", DateSource: ticket.DateFallback},
	}}}
	extra := &ticket.ParsedTicket{Segments: []ticket.Segment{{Dep: ticket.Endpoint{IATA: "ACC"}}}}

	out := Merge(base, extra, []string{quality.FieldSegmentDates})
	assert.False(t, out.Segments[0].Dep.HasDate())
	assert.Empty(t, out.Segments[0].Dep.DateSource)
}

func TestMergeShapeMismatch(t *testing.T) {
	base := &ticket.ParsedTicket{Segments: []ticket.Segment{{MarketingFlightNo: "??"}}}
	extra := &ticket.ParsedTicket{Segments: []ticket.Segment{{MarketingFlightNo: "SA053"}, {MarketingFlightNo: "SA054"}}}

	out := Merge(base, extra, []string{quality.FieldFlightNumbers})
	require.Len(t, out.Segments, 1)
	assert.Equal(t, "??", out.Segments[0].MarketingFlightNo)
}

func TestMergeNil(t *testing.T) {
	extra := &ticket.ParsedTicket{BookingRef: "X7KQ2M"}
	assert.Equal(t, "X7KQ2M", Merge(nil, extra, nil).BookingRef)
	assert.Equal(t, "X7KQ", Merge(&ticket.ParsedTicket{BookingRef: "X7KQ"}, nil, []string{quality.FieldBookingRef}).BookingRef)
}
