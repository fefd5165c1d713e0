package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "ticket_parser/internal/parsers"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/ticket"
)

const receipt = `SOUTH AFRICAN AIRWAYS E-TICKET RECEIPT
Booking Reference: X7KQ2M
Passenger: MR JOHN SMITH ADT
Ticket Number: 083-2401234567
Sun, 28 Sep 2025
Flight SA 053 Economy
20:30 Accra
Kotoka International (ACC)
04:25 Johannesburg
(+1 day)
O.R. Tambo International (JNB)
Duration 7h 55m
Baggage allowance: 1 x 23kg
Total paid: ZAR 12,450.00
Paid with VISA ending 4242
Fare basis: YOWZA
Non-refundable`

func TestProcessReceiptWithDefaultParsers(t *testing.T) {
	fake := &fakeLLM{}
	p := New(Options{LLM: fake})

	res, err := p.Process(context.Background(), &ticket.Document{Text: receipt})
	require.NoError(t, err)

	assert.Equal(t, quality.TierAccept, res.Decision.Tier)
	assert.Equal(t, SourceDeterministic, res.Source)
	assert.NotEmpty(t, res.Parser)
	assert.Empty(t, fake.reqs)

	it := res.Itinerary
	assert.Equal(t, "X7KQ2M", it.BookingRef)
	assert.Equal(t, "SA", it.Airline.Code)
	require.Len(t, it.Flights, 1)
	assert.Equal(t, "SA053", it.Flights[0].FlightNumber)
	assert.Equal(t, "2025-09-28T20:30", it.Flights[0].Departure.Local)
	assert.Equal(t, "2025-09-29T04:25", it.Flights[0].Arrival.Local)
	assert.Equal(t, "1 × 23kg", it.Baggage)
	assert.Equal(t, receipt, res.Ticket.Raw.Text)
}
