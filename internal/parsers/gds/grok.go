// Package gds provides grok-style row formats for travel-agency segment tables.
package gds

import "ticket_parser/internal/patterns"

// Formats defines the known segment table layouts, after normalisation.
var Formats = []patterns.Format{
	// Agency table with long dates.
	// Example: 1 QZ7510 Y CGK DPS 12 Sep 2025 08:30 12 Sep 2025 11:45 HK
	{
		Name: "table_long_date",
		Pattern: `(?m)^\s*(?P<seg>{SEGNO})\s+(?P<flight>{FLIGHT})\s+(?P<rbd>{RBD})\s+` +
			`(?P<orig>{IATA})\s+(?P<dest>{IATA})\s+` +
			`(?P<depdate>{LONGDATE})\s+(?P<dep>{CLOCK})\s+` +
			`(?P<arrdate>{LONGDATE})\s+(?P<arr>{CLOCK})` +
			`(?:[ \t]+(?P<status>{STATUS}))?`,
		Fields: []string{"seg", "flight", "rbd", "orig", "dest", "depdate", "dep", "arrdate", "arr", "status"},
	},
	// Agency table with compact dates.
	// Example: 1 KQ101 Y NBO JNB 12SEP 08:30 12SEP 11:45 HK
	{
		Name: "table_compact_date",
		Pattern: `(?m)^\s*(?P<seg>{SEGNO})\s+(?P<flight>{FLIGHT})\s+(?P<rbd>{RBD})\s+` +
			`(?P<orig>{IATA})\s+(?P<dest>{IATA})\s+` +
			`(?P<depdate>{DDMON}(?:\d{2})?)\s+(?P<dep>{CLOCK})\s+` +
			`(?P<arrdate>{DDMON}(?:\d{2})?)\s+(?P<arr>{CLOCK})` +
			`(?:[ \t]+(?P<status>{STATUS}))?`,
		Fields: []string{"seg", "flight", "rbd", "orig", "dest", "depdate", "dep", "arrdate", "arr", "status"},
	},
	// Reservation system display, one date per row.
	// Example: 2 KQ 101 Y 12SEP 5 NBO JNB HK1 08:30 11:45 NEXT_DAY
	{
		Name: "pnr_display",
		Pattern: `(?m)^\s*(?P<seg>{SEGNO})\s+(?P<flight>{FLIGHT})\s+(?P<rbd>{RBD})\s+` +
			`(?P<depdate>{DDMON})\s+(?:\d\s+)?(?P<orig>{IATA})\s*(?P<dest>{IATA})\s+` +
			`(?P<status>{STATUS})\d*\s+(?P<dep>{CLOCK})\s+(?P<arr>{CLOCK})` +
			`(?P<nextday>[ \t]+{NEXTDAY})?`,
		Fields: []string{"seg", "flight", "rbd", "depdate", "orig", "dest", "status", "dep", "arr", "nextday"},
	},
}
