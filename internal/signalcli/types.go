// Package signalcli is the messaging boundary of the relay. Transport
// encryption, delivery and receipts are signal-cli's problem; this
// package runs the binary and decodes its line-oriented JSON output.
package signalcli

import (
	"context"
	"time"
)

// Envelope is one decoded inbound message unit.
type Envelope struct {
	// Sender is the transport's sender address, matched exactly
	// against the allow-list.
	Sender string
	Body   string
	// ReceivedAt comes from the envelope timestamp when present,
	// otherwise the local decode time.
	ReceivedAt time.Time
}

// Transport is the injected messaging capability. The relay core only
// ever talks to this interface, so tests run against a fake and never
// touch the real binary.
type Transport interface {
	// Receive performs one bounded receive call and returns all
	// envelopes decoded from its output. Malformed lines are reported
	// through the receive result, not as an error.
	Receive(ctx context.Context) (ReceiveResult, error)
	// Send delivers text to the configured destination group.
	Send(ctx context.Context, text string) error
}

// ReceiveResult separates decoded envelopes from lines that failed to
// decode; the poller logs the latter and moves on.
type ReceiveResult struct {
	Envelopes []Envelope
	// Malformed holds the raw content of lines that were not valid
	// envelope JSON.
	Malformed []string
}
