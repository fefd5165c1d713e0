package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ticket_parser/internal/ticket"
)

// TicketSchema returns the JSON schema the model must satisfy. It mirrors
// the JSON encoding of ticket.ParsedTicket.
func TicketSchema() map[string]any {
	endpoint := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"iata":        map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`},
			"city":        map[string]any{"type": "string"},
			"terminal":    map[string]any{"type": "string"},
			"time_local":  map[string]any{"type": "string", "pattern": `^\d{2}:\d{2}$`},
			"date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"date_source": map[string]any{"type": "string", "enum": []string{"explicit", "inferred", "fallback"}},
			"next_day":    map[string]any{"type": "boolean"},
		},
		"required": []string{"iata"},
	}
	segment := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"marketing_flight_no": map[string]any{"type": "string", "pattern": `^[A-Z0-9]{2}\d{1,4}$`},
			"cabin":               map[string]any{"type": "string"},
			"booking_class":       map[string]any{"type": "string", "maxLength": 2},
			"dep":                 endpoint,
			"arr":                 endpoint,
			"duration":            map[string]any{"type": "string"},
		},
		"required": []string{"marketing_flight_no", "dep", "arr"},
	}
	passenger := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"full_name":     map[string]any{"type": "string", "minLength": 1},
			"title":         map[string]any{"type": "string"},
			"given_name":    map[string]any{"type": "string"},
			"surname":       map[string]any{"type": "string"},
			"type":          map[string]any{"type": "string", "enum": []string{"ADT", "CHD", "CNN", "INF", "YTH"}},
			"ticket_number": map[string]any{"type": "string"},
		},
		"required": []string{"full_name"},
	}
	payment := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method":   map[string]any{"type": "string"},
			"last4":    map[string]any{"type": "string", "pattern": `^\d{4}$`},
			"currency": map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
			"amount":   map[string]any{"type": "number", "minimum": 0},
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"carrier":         map[string]any{"type": "string", "pattern": `^[A-Z0-9]{2}$`},
			"booking_ref":     map[string]any{"type": "string", "pattern": `^[A-Z0-9]{5,8}$`},
			"airline_locator": map[string]any{"type": "string"},
			"passengers":      map[string]any{"type": "array", "items": passenger},
			"segments":        map[string]any{"type": "array", "items": segment},
			"baggage":         map[string]any{"type": "string"},
			"payments":        map[string]any{"type": "array", "items": payment},
			"fare_details": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fare_basis": map[string]any{"type": "string"},
					"notes":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		"required": []string{"segments"},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(TicketSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("ticket.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("ticket.json")
	})
	return compiledSchema, schemaErr
}

// Validate checks data against TicketSchema. Violations wrap ErrInvalidOutput.
func Validate(data []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

// Decode validates data and converts it to a ticket. Dates the model
// supplied without a source are treated as printed.
func Decode(data []byte) (*ticket.ParsedTicket, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var t ticket.ParsedTicket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	for i := range t.Segments {
		markExplicit(&t.Segments[i].Dep)
		markExplicit(&t.Segments[i].Arr)
	}
	return &t, nil
}

func markExplicit(e *ticket.Endpoint) {
	if e.Date != "" && e.DateSource == "" {
		e.DateSource = ticket.DateExplicit
	}
}
