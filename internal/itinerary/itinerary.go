// Package itinerary maps parsed tickets to the external itinerary shape
// consumed by storage, export and the API.
package itinerary

import (
	"strings"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/patterns"
	"ticket_parser/internal/ticket"
)

// PassengerType is the long form of a passenger type code.
type PassengerType string

const (
	Adult  PassengerType = "adult"
	Child  PassengerType = "child"
	Infant PassengerType = "infant"
	Youth  PassengerType = "youth"
)

// Itinerary is the normalised, externally visible result of one parse.
type Itinerary struct {
	ID             string      `json:"id,omitempty"`
	BookingRef     string      `json:"booking_ref"`
	AirlineLocator string      `json:"airline_locator,omitempty"`
	Airline        Airline     `json:"airline"`
	Travellers     []Traveller `json:"travellers"`
	Flights        []Flight    `json:"flights"`
	Baggage        string      `json:"baggage,omitempty"`
	Payments       []Payment   `json:"payments,omitempty"`
	FareBasis      string      `json:"fare_basis,omitempty"`
	FareNotes      []string    `json:"fare_notes,omitempty"`
	Confidence     float64     `json:"confidence"`
}

// Airline identifies the issuing carrier.
type Airline struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// Traveller is a passenger on the itinerary.
type Traveller struct {
	Name         string        `json:"name"`
	Title        string        `json:"title,omitempty"`
	GivenName    string        `json:"given_name,omitempty"`
	Surname      string        `json:"surname,omitempty"`
	Type         PassengerType `json:"type"`
	TicketNumber string        `json:"ticket_number,omitempty"`
}

// Flight is one segment of the itinerary.
type Flight struct {
	FlightNumber string `json:"flight_number"`
	AirlineCode  string `json:"airline_code,omitempty"`
	Cabin        string `json:"cabin,omitempty"`
	CabinRaw     string `json:"cabin_raw,omitempty"`
	BookingClass string `json:"booking_class,omitempty"`
	Departure    Stop   `json:"departure"`
	Arrival      Stop   `json:"arrival"`
	Duration     string `json:"duration,omitempty"`
}

// Stop is a departure or arrival.
type Stop struct {
	Airport    string            `json:"airport"`
	City       string            `json:"city,omitempty"`
	Terminal   string            `json:"terminal,omitempty"`
	Date       string            `json:"date,omitempty"`
	Time       string            `json:"time,omitempty"`
	Local      string            `json:"local,omitempty"` // 2006-01-02T15:04
	DateSource ticket.DateSource `json:"date_source,omitempty"`
}

// Payment is a payment line.
type Payment struct {
	Method   string  `json:"method,omitempty"`
	Last4    string  `json:"last4,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

// Map converts a parsed ticket. It is a pure function of t.
func Map(t *ticket.ParsedTicket) Itinerary {
	if t == nil {
		return Itinerary{}
	}
	it := Itinerary{
		BookingRef:     t.BookingRef,
		AirlineLocator: t.AirlineLocator,
		Baggage:        CanonicalBaggage(t.Baggage),
		Travellers:     make([]Traveller, 0, len(t.Passengers)),
		Flights:        make([]Flight, 0, len(t.Segments)),
	}

	carrier := strings.ToUpper(t.Carrier)
	for _, s := range t.Segments {
		if carrier != "" {
			break
		}
		carrier = AirlineCode("", s.MarketingFlightNo)
	}
	it.Airline = Airline{Code: carrier, Name: patterns.CarrierNames[carrier]}

	for _, p := range t.Passengers {
		it.Travellers = append(it.Travellers, Traveller{
			Name:         p.FullName,
			Title:        p.Title,
			GivenName:    p.GivenName,
			Surname:      p.Surname,
			Type:         MapPassengerType(p.Type),
			TicketNumber: p.TicketNumber,
		})
	}

	for _, s := range t.Segments {
		code := AirlineCode(t.Carrier, s.MarketingFlightNo)
		it.Flights = append(it.Flights, Flight{
			FlightNumber: s.MarketingFlightNo,
			AirlineCode:  code,
			Cabin:        MapCabin(code, s.Cabin),
			CabinRaw:     s.Cabin,
			BookingClass: s.BookingClass,
			Departure:    stop(s.Dep),
			Arrival:      stop(s.Arr),
			Duration:     s.Duration,
		})
	}

	for _, p := range t.Payments {
		it.Payments = append(it.Payments, Payment(p))
	}
	if t.FareDetails != nil {
		it.FareBasis = t.FareDetails.FareBasis
		it.FareNotes = append([]string(nil), t.FareDetails.Notes...)
	}
	return it
}

func stop(e ticket.Endpoint) Stop {
	s := Stop{
		Airport:    e.IATA,
		City:       e.City,
		Terminal:   e.Terminal,
		Date:       e.Date,
		Time:       e.TimeLocal,
		DateSource: e.DateSource,
	}
	if at, ok := dates.At(e); ok {
		s.Local = at.Format("2006-01-02T15:04")
	}
	return s
}

// ReadBack reconstructs a parsed ticket from an itinerary. Flight numbers,
// airports, dates and times survive a Map/ReadBack round trip unchanged.
func ReadBack(it Itinerary) *ticket.ParsedTicket {
	t := &ticket.ParsedTicket{
		Carrier:        it.Airline.Code,
		BookingRef:     it.BookingRef,
		AirlineLocator: it.AirlineLocator,
		Baggage:        it.Baggage,
	}
	for _, tr := range it.Travellers {
		t.Passengers = append(t.Passengers, ticket.Passenger{
			FullName:     tr.Name,
			Title:        tr.Title,
			GivenName:    tr.GivenName,
			Surname:      tr.Surname,
			Type:         passengerCode(tr.Type),
			TicketNumber: tr.TicketNumber,
		})
	}
	for _, f := range it.Flights {
		cabin := f.CabinRaw
		if cabin == "" {
			cabin = f.Cabin
		}
		t.Segments = append(t.Segments, ticket.Segment{
			MarketingFlightNo: f.FlightNumber,
			Cabin:             cabin,
			BookingClass:      f.BookingClass,
			Dep:               endpoint(f.Departure),
			Arr:               endpoint(f.Arrival),
			Duration:          f.Duration,
		})
	}
	for _, p := range it.Payments {
		t.Payments = append(t.Payments, ticket.Payment(p))
	}
	if it.FareBasis != "" || len(it.FareNotes) > 0 {
		t.FareDetails = &ticket.FareDetails{FareBasis: it.FareBasis, Notes: append([]string(nil), it.FareNotes...)}
	}
	return t
}

func endpoint(s Stop) ticket.Endpoint {
	e := ticket.Endpoint{
		IATA:       s.Airport,
		City:       s.City,
		Terminal:   s.Terminal,
		Date:       s.Date,
		TimeLocal:  s.Time,
		DateSource: s.DateSource,
	}
	if e.Date == "" && len(s.Local) == len("2006-01-02T15:04") {
		e.Date, e.TimeLocal = s.Local[:10], s.Local[11:]
	}
	return e
}

// MapPassengerType maps ADT/CHD/CNN/INF/YTH to the long form. Unknown or
// empty codes are adults.
func MapPassengerType(code string) PassengerType {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "CHD", "CNN":
		return Child
	case "INF":
		return Infant
	case "YTH":
		return Youth
	default:
		return Adult
	}
}

func passengerCode(t PassengerType) string {
	switch t {
	case Child:
		return "CHD"
	case Infant:
		return "INF"
	case Youth:
		return "YTH"
	default:
		return "ADT"
	}
}

// AirlineCode returns carrier when known, else the flight number's prefix.
func AirlineCode(carrier, flightNo string) string {
	if carrier != "" {
		return strings.ToUpper(carrier)
	}
	return patterns.CarrierPrefix(flightNo)
}
