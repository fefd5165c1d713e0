// Package export writes itineraries to spreadsheet workbooks.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"ticket_parser/internal/itinerary"
)

// Sheet names.
const (
	SegmentsSheet   = "Segments"
	PassengersSheet = "Passengers"
)

var segmentHeaders = []string{
	"Booking Ref",
	"Airline",
	"Flight",
	"Cabin",
	"Class",
	"From",
	"Departure",
	"To",
	"Arrival",
	"Duration",
	"Date Source",
	"Confidence",
}

var passengerHeaders = []string{
	"Booking Ref",
	"Name",
	"Type",
	"Ticket Number",
	"Baggage",
	"Fare Basis",
}

// WriteXLSX writes a workbook with one row per flight on the Segments sheet
// and one row per traveller on the Passengers sheet.
func WriteXLSX(w io.Writer, its []itinerary.Itinerary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SegmentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(PassengersSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}

	segRows := make([][]any, 0, len(its))
	paxRows := make([][]any, 0, len(its))
	for _, it := range its {
		for _, fl := range it.Flights {
			segRows = append(segRows, []any{
				it.BookingRef,
				fl.AirlineCode,
				fl.FlightNumber,
				fl.Cabin,
				fl.BookingClass,
				stopLabel(fl.Departure),
				stopTime(fl.Departure),
				stopLabel(fl.Arrival),
				stopTime(fl.Arrival),
				fl.Duration,
				string(fl.Departure.DateSource),
				it.Confidence,
			})
		}
		for _, tr := range it.Travellers {
			paxRows = append(paxRows, []any{
				it.BookingRef,
				tr.Name,
				string(tr.Type),
				tr.TicketNumber,
				it.Baggage,
				it.FareBasis,
			})
		}
	}

	if err := writeSheet(f, SegmentsSheet, segmentHeaders, segRows); err != nil {
		return err
	}
	if err := writeSheet(f, PassengersSheet, passengerHeaders, paxRows); err != nil {
		return err
	}

	_ = f.SetColWidth(SegmentsSheet, "F", "I", 18)
	_ = f.SetColWidth(PassengersSheet, "B", "B", 28)
	_ = f.SetColWidth(PassengersSheet, "D", "D", 18)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

// stopLabel renders "Johannesburg (JNB)" or just the code.
func stopLabel(s itinerary.Stop) string {
	if s.City == "" {
		return s.Airport
	}
	return fmt.Sprintf("%s (%s)", s.City, s.Airport)
}

func stopTime(s itinerary.Stop) string {
	if s.Local != "" {
		return strings.Replace(s.Local, "T", " ", 1)
	}
	return strings.TrimSpace(s.Date + " " + s.Time)
}
