// Package llm is the contract for the generative ticket extractor and an
// OpenAI-compatible implementation of it.
package llm

import (
	"context"
	"errors"

	"ticket_parser/internal/ticket"
)

// ErrInvalidOutput is returned when the model's JSON does not match the
// ticket schema.
var ErrInvalidOutput = errors.New("llm: output does not match ticket schema")

// Tier selects the model used for a call.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierEscalate Tier = "escalate"
)

// Request is one extraction call.
type Request struct {
	Text        string
	HTML        string
	Prior       *ticket.ParsedTicket // deterministic result, if any
	CarrierHint string
	Missing     []string // fields to fill; empty means extract everything
	Tier        Tier
}

// Narrow reports whether the caller only wants the missing fields.
func (r Request) Narrow() bool {
	return r.Prior != nil && len(r.Missing) > 0
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// Response carries the decoded ticket and its usage.
type Response struct {
	Result *ticket.ParsedTicket
	Usage  Usage
	Raw    []byte
}

// Extractor is what the pipeline depends on.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Response, error)
}
