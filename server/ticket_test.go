package server

import (
	"encoding/json"
	"testing"
)

func TestTicketRoundTrip(t *testing.T) {
	in := ticketPayload{
		Kind:      ticketShard,
		QueryID:   "0b9af1f2-5a52-4b35-bf38-5b61d38edb7a",
		SQL:       "SELECT * FROM read_parquet(['a.parquet'])",
		FetchSize: 10,
	}
	body, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeTicket(body)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("round trip changed payload: %+v != %+v", out, in)
	}
}

func TestDecodeTicketRejectsJunk(t *testing.T) {
	if _, err := decodeTicket([]byte("not json")); err == nil {
		t.Fatal("junk ticket accepted")
	}
	if _, err := decodeTicket([]byte(`{"kind": "mystery"}`)); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestEncodeTicketWrapsStatementTicket(t *testing.T) {
	ticket, err := encodeTicket(ticketPayload{Kind: ticketStatement, SQL: "SELECT 1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ticket) == 0 {
		t.Fatal("empty ticket")
	}
	// The payload is embedded in the Flight SQL ticket envelope; it must not
	// be bare JSON on the wire.
	if json.Valid(ticket) {
		t.Fatal("ticket is unwrapped JSON")
	}
}
