package ticket

import "fmt"

// Severity is the level of a diagnostic event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Stage names used in diagnostics.
const (
	StageNormalize = "normalize"
	StageLexical   = "lexical"
	StageWaypoint  = "waypoint"
	StageStitch    = "stitch"
	StageDates     = "dates"
	StageQuality   = "quality"
	StageCarrier   = "carrier"
	StageLLM       = "llm"
	StageMapper    = "mapper"
)

// Event is a single diagnostic raised by a stage.
type Event struct {
	Stage    string   `json:"stage"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Stage, e.Message)
}

// Diagnostics is the ordered side-channel returned alongside stage output.
type Diagnostics []Event

// Add appends an event.
func (d *Diagnostics) Add(stage string, sev Severity, format string, args ...any) {
	*d = append(*d, Event{Stage: stage, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning.
func (d *Diagnostics) Warnf(stage, format string, args ...any) {
	d.Add(stage, SeverityWarn, format, args...)
}

// Infof appends an informational event.
func (d *Diagnostics) Infof(stage, format string, args ...any) {
	d.Add(stage, SeverityInfo, format, args...)
}

// Merge appends all events from other.
func (d *Diagnostics) Merge(other Diagnostics) {
	*d = append(*d, other...)
}

// Count returns the number of events at the given severity.
func (d Diagnostics) Count(sev Severity) int {
	n := 0
	for _, e := range d {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

// ForStage filters events raised by one stage.
func (d Diagnostics) ForStage(stage string) Diagnostics {
	var out Diagnostics
	for _, e := range d {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}
