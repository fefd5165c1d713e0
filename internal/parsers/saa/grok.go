// Package saa provides grok-style row formats for South African Airways itineraries.
package saa

import "ticket_parser/internal/patterns"

// Formats defines the known SAA itinerary row layouts, after normalisation.
// Order matters - more specific patterns should come first.
var Formats = []patterns.Format{
	// Class before date, with segment status.
	// Example: SA052 Y 28SEP ACC JNB HK1 20:30 04:25 NEXT_DAY
	{
		Name: "saa_class_status",
		Pattern: `(?P<flight>{FLIGHT})\s+(?P<rbd>{RBD})\s+(?P<date>{DDMON}(?:\d{2})?)\s+` +
			`(?P<orig>{IATA})\s+(?P<dest>{IATA})\s+(?P<status>{STATUS})\d?\s+` +
			`(?P<dep>{CLOCK})\s+(?P<arr>{CLOCK})(?P<nextday>\s+{NEXTDAY})?`,
		Fields: []string{"flight", "rbd", "date", "orig", "dest", "status", "dep", "arr", "nextday"},
	},
	// Compact row with trailing class.
	// Example: SA052 28SEP ACC JNB 20:30 04:25 NEXT_DAY Y
	{
		Name: "saa_row",
		Pattern: `(?P<flight>{FLIGHT})\s+(?P<date>{DDMON}(?:\d{2})?)\s+` +
			`(?P<orig>{IATA})\s+(?P<dest>{IATA})\s+` +
			`(?P<dep>{CLOCK})\s+(?P<arr>{CLOCK})(?P<nextday>\s+{NEXTDAY})?` +
			`(?:[ \t]+(?P<rbd>{RBD})\b)?`,
		Fields: []string{"flight", "date", "orig", "dest", "dep", "arr", "nextday", "rbd"},
	},
}
