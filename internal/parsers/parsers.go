// Package parsers imports all parser packages to trigger their init() registration.
// Import this package for side effects only.
package parsers

import (
	// Import all parser packages to register them with the registry.
	_ "ticket_parser/internal/parsers/gds"
	_ "ticket_parser/internal/parsers/generic"
	_ "ticket_parser/internal/parsers/saa"
)
