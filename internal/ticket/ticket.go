// Package ticket defines the in-memory model shared by every parsing stage.
package ticket

import "time"

// DateSource records how a calendar date on an endpoint was obtained.
type DateSource string

const (
	DateExplicit DateSource = "explicit" // Printed in the document.
	DateInferred DateSource = "inferred" // Derived from neighbouring segments.
	DateFallback DateSource = "fallback" // No context; reference date used.
)

// Document is one unit of input to the pipeline.
type Document struct {
	ID          string    `json:"id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Text        string    `json:"text,omitempty"`
	HTML        string    `json:"html,omitempty"`
	CarrierHint string    `json:"carrier_hint,omitempty"`
	BaseDate    time.Time `json:"base_date,omitempty"`

	// Normalized holds the cleaned text once the pipeline has run the normalizer.
	Normalized string `json:"-"`
}

// Waypoint is a single (time, airport) observation from the source text.
type Waypoint struct {
	Time      string `json:"time"`
	Location  string `json:"location"`
	IsNextDay bool   `json:"is_next_day,omitempty"`
	Terminal  string `json:"terminal,omitempty"`
	Date      string `json:"date,omitempty"`
	Ordinal   int    `json:"ordinal"`
	City      string `json:"city,omitempty"`
}

// FlightLeg pairs a departure waypoint with an arrival waypoint.
type FlightLeg struct {
	FlightNumber string   `json:"flight_number,omitempty"`
	Departure    Waypoint `json:"departure"`
	Arrival      Waypoint `json:"arrival"`
	DurationText string   `json:"duration,omitempty"`
}

// Endpoint is one end of a segment.
type Endpoint struct {
	IATA       string     `json:"iata"`
	City       string     `json:"city,omitempty"`
	Terminal   string     `json:"terminal,omitempty"`
	TimeLocal  string     `json:"time_local,omitempty"`
	Date       string     `json:"date,omitempty"`
	DateSource DateSource `json:"date_source,omitempty"`
	NextDay    bool       `json:"next_day,omitempty"`
}

// HasDate reports whether the endpoint carries a calendar date.
func (e Endpoint) HasDate() bool {
	return e.Date != ""
}

// Segment is a flight leg with resolved calendar dates.
type Segment struct {
	MarketingFlightNo string   `json:"marketing_flight_no"`
	Cabin             string   `json:"cabin,omitempty"`
	BookingClass      string   `json:"booking_class,omitempty"`
	Dep               Endpoint `json:"dep"`
	Arr               Endpoint `json:"arr"`
	Duration          string   `json:"duration,omitempty"`
}

// Passenger is a traveller named on the ticket.
type Passenger struct {
	FullName     string `json:"full_name"`
	Title        string `json:"title,omitempty"`
	GivenName    string `json:"given_name,omitempty"`
	Surname      string `json:"surname,omitempty"`
	Type         string `json:"type,omitempty"` // ADT, CHD, INF
	TicketNumber string `json:"ticket_number,omitempty"`
}

// Payment is a single payment line.
type Payment struct {
	Method   string  `json:"method,omitempty"`
	Last4    string  `json:"last4,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

// FareDetails holds fare basis and restriction notes.
type FareDetails struct {
	FareBasis string   `json:"fare_basis,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

// RawDocument retains the original input for audit.
type RawDocument struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// ParsedTicket is the aggregate produced by one parse.
type ParsedTicket struct {
	Carrier        string       `json:"carrier,omitempty"`
	BookingRef     string       `json:"booking_ref,omitempty"`
	AirlineLocator string       `json:"airline_locator,omitempty"`
	Passengers     []Passenger  `json:"passengers"`
	Segments       []Segment    `json:"segments"`
	Baggage        string       `json:"baggage,omitempty"`
	Payments       []Payment    `json:"payments,omitempty"`
	FareDetails    *FareDetails `json:"fare_details,omitempty"`
	Raw            RawDocument  `json:"raw"`
}

// IsEmpty reports whether the ticket carries none of the critical fields.
func (t *ParsedTicket) IsEmpty() bool {
	return t == nil || (t.BookingRef == "" && len(t.Passengers) == 0 && len(t.Segments) == 0)
}

// Clone returns a deep copy so callers can merge without aliasing slices.
func (t *ParsedTicket) Clone() *ParsedTicket {
	if t == nil {
		return nil
	}
	c := *t
	c.Passengers = append([]Passenger(nil), t.Passengers...)
	c.Segments = append([]Segment(nil), t.Segments...)
	c.Payments = append([]Payment(nil), t.Payments...)
	if t.FareDetails != nil {
		fd := *t.FareDetails
		fd.Notes = append([]string(nil), t.FareDetails.Notes...)
		c.FareDetails = &fd
	}
	return &c
}
