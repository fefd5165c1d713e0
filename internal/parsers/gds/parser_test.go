package gds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/ticket"
)

const agencyItinerary = `Travel Agency Itinerary
Provider PNR: ABC123
Airlines PNR: QZ/XYZ789
Last Name: SMITH - First Name: JOHN
Last Name: DOE - First Name: JANE
Seg Flight Class From To Depart Arrive Status
1 QZ7510 Y CGK DPS 12 Sep 2025 08:30 12 Sep 2025 11:45 HK
2 QZ7511 Y DPS CGK 13 Sep 2025 13:00 13 Sep 2025 13:50 HK`

func TestAgencyTable(t *testing.T) {
	p := &Parser{}
	require.True(t, p.QuickCheck(agencyItinerary))

	res := p.Parse(&ticket.Document{Text: agencyItinerary})
	require.NotNil(t, res)
	tk := res.Ticket

	assert.Equal(t, "ABC123", tk.BookingRef)
	assert.Equal(t, "XYZ789", tk.AirlineLocator)
	assert.Equal(t, "QZ", tk.Carrier)

	require.Len(t, tk.Passengers, 2)
	assert.Equal(t, "JOHN SMITH", tk.Passengers[0].FullName)
	assert.Equal(t, "SMITH", tk.Passengers[0].Surname)
	assert.Equal(t, "JANE DOE", tk.Passengers[1].FullName)

	require.Len(t, tk.Segments, 2)
	s := tk.Segments[0]
	assert.Equal(t, "QZ7510", s.MarketingFlightNo)
	assert.Equal(t, "Y", s.BookingClass)
	assert.Equal(t, "CGK", s.Dep.IATA)
	assert.Equal(t, "DPS", s.Arr.IATA)
	assert.Equal(t, "2025-09-12", s.Dep.Date)
	assert.Equal(t, "08:30", s.Dep.TimeLocal)
	assert.Equal(t, "2025-09-12", s.Arr.Date)
	assert.Equal(t, ticket.DateExplicit, s.Arr.DateSource)

	assert.Equal(t, "QZ7511", tk.Segments[1].MarketingFlightNo)
	assert.Equal(t, "2025-09-13", tk.Segments[1].Dep.Date)
	assert.Empty(t, dates.Validate(tk.Segments))
}

func TestCompactTable(t *testing.T) {
	text := "Segment details\n1 KQ101 Y NBO JNB 12SEP 0830 12SEP 1145 HK\n2 KQ762 Y JNB NBO 20SEP 1440 20SEP 1935 WL"
	res := (&Parser{}).Parse(&ticket.Document{Text: text, BaseDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)})
	require.NotNil(t, res)
	require.Len(t, res.Ticket.Segments, 2)

	s := res.Ticket.Segments[0]
	assert.Equal(t, "08:30", s.Dep.TimeLocal)
	assert.Equal(t, "11:45", s.Arr.TimeLocal)
	assert.Equal(t, "2025-09-12", s.Dep.Date)

	// The waitlisted segment is reported.
	found := false
	for _, e := range res.Diagnostics.ForStage(ticket.StageCarrier) {
		if e.Severity == ticket.SeverityWarn {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPNRDisplay(t *testing.T) {
	text := "PNR display\n2 KQ 101 Y 12SEP 5 NBOJNB HK1 2230 0545 +1"
	res := (&Parser{}).Parse(&ticket.Document{Text: text, BaseDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)})
	require.NotNil(t, res)
	require.Len(t, res.Ticket.Segments, 1)

	s := res.Ticket.Segments[0]
	assert.Equal(t, "KQ101", s.MarketingFlightNo)
	assert.Equal(t, "NBO", s.Dep.IATA)
	assert.Equal(t, "JNB", s.Arr.IATA)
	assert.True(t, s.Arr.NextDay)
	assert.Equal(t, "2025-09-12", s.Dep.Date)
	assert.Equal(t, "2025-09-13", s.Arr.Date)
	assert.Equal(t, ticket.DateInferred, s.Arr.DateSource)
}

func TestNoTable(t *testing.T) {
	assert.Nil(t, (&Parser{}).Parse(&ticket.Document{Text: "Booking status: confirmed"}))
}
