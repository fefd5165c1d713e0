package quality

import "ticket_parser/internal/ticket"

// Default thresholds on the 0-100 scale.
const (
	DefaultAcceptThreshold  = 75.0
	DefaultEnhanceThreshold = 50.0
)

// Tier is the gate's verdict.
type Tier string

const (
	// TierAccept returns the deterministic result as is.
	TierAccept Tier = "accept"
	// TierEnhance asks the generative extractor for the missing fields only.
	TierEnhance Tier = "enhance"
	// TierFallback asks the generative extractor for a full extraction.
	TierFallback Tier = "fallback"
)

// Gate compares a score against fixed thresholds.
type Gate struct {
	AcceptThreshold  float64
	EnhanceThreshold float64
}

// DefaultGate returns a gate with the default thresholds.
func DefaultGate() Gate {
	return Gate{AcceptThreshold: DefaultAcceptThreshold, EnhanceThreshold: DefaultEnhanceThreshold}
}

// Decision is the outcome of Decide.
type Decision struct {
	Tier    Tier      `json:"tier"`
	Score   Breakdown `json:"score"`
	Missing []string  `json:"missing,omitempty"`
}

// Decide scores t and picks a tier. A ticket above the accept threshold with
// missing critical fields is still accepted; the missing list is informational.
func (g Gate) Decide(t *ticket.ParsedTicket) Decision {
	d := Decision{Score: Score(t), Missing: MissingFields(t)}
	switch {
	case d.Score.Total >= g.AcceptThreshold:
		d.Tier = TierAccept
	case d.Score.Total >= g.EnhanceThreshold:
		d.Tier = TierEnhance
	default:
		d.Tier = TierFallback
	}
	return d
}

// Better reports whether candidate should replace current. Ties keep current.
func Better(candidate, current Breakdown) bool {
	return candidate.Total > current.Total
}
