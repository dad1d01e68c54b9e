package server

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
)

// ticketKind tags what a ticket asks the server to run.
type ticketKind string

const (
	ticketStatement ticketKind = "statement"
	ticketPrepared  ticketKind = "prepared"
	ticketShard     ticketKind = "shard"
)

// ticketPayload is the server-interpreted content of an endpoint ticket.
// Tickets are stateless: the SQL they carry is already rewritten and
// sharded, and QueryID only names the cancellation handle.
type ticketPayload struct {
	Kind      ticketKind `json:"kind"`
	QueryID   string     `json:"query_id,omitempty"`
	Handle    string     `json:"handle,omitempty"`
	SQL       string     `json:"sql,omitempty"`
	FetchSize int        `json:"fetch_size,omitempty"`
}

// encodeTicket wraps the payload in a Flight SQL statement-query ticket so
// every endpoint, including prepared-statement executions, routes through
// the statement DoGet path.
func encodeTicket(p ticketPayload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}
	ticket, err := flightsql.CreateStatementQueryTicket(body)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return ticket, nil
}

// decodeTicket parses the payload back out of a statement handle.
func decodeTicket(handle []byte) (ticketPayload, error) {
	var p ticketPayload
	if err := json.Unmarshal(handle, &p); err != nil {
		return p, fmt.Errorf("malformed ticket")
	}
	switch p.Kind {
	case ticketStatement, ticketPrepared, ticketShard:
	default:
		return p, fmt.Errorf("unknown ticket kind %q", p.Kind)
	}
	return p, nil
}
