package patterns

// BasePatterns defines reusable regex components for grok-style row formats.
// Format patterns reference them as {NAME}.
var BasePatterns = map[string]string{
	// Airports and carriers.
	"IATA":    `[A-Z]{3}`,
	"CARRIER": `(?:[A-Z][A-Z0-9]|[0-9][A-Z])`,
	"FLTNUM":  `\d{1,4}[A-Z]?`,
	"FLIGHT":  `(?:[A-Z][A-Z0-9]|[0-9][A-Z])\s?\d{1,4}[A-Z]?`,

	// Times, after normalisation.
	"CLOCK":   `(?:[01]\d|2[0-3]):[0-5]\d`,
	"NEXTDAY": `NEXT_DAY`,

	// Dates.
	"DDMON":    `\d{2}(?:JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)`,
	"DDMONYY":  `\d{2}(?:JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)\d{2}`,
	"LONGDATE": `\d{1,2}\s+(?:JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)[A-Z]*\s+\d{4}`,

	// Booking data.
	"RBD":    `[A-Z]`,
	"STATUS": `(?:HK|OK|TK|RR|KK|CONFIRMED|CNF|WL)`,
	"SEGNO":  `\d{1,2}`,
}
