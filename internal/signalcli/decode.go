package signalcli

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// wireEnvelope mirrors the JSON objects signal-cli receive emits, one
// per line. Only the fields the relay needs are declared; everything
// else (receipts, typing indicators, reactions) is carried in entries
// without a dataMessage and skipped.
type wireEnvelope struct {
	Envelope struct {
		Source    string `json:"source"`
		Timestamp int64  `json:"timestamp"`
		DataMsg   *struct {
			Message string `json:"message"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// DecodeStream decodes newline-delimited envelope JSON. A line that is
// not valid JSON lands in Malformed with its raw content; a valid line
// without a text dataMessage is dropped silently. now supplies the
// fallback receipt time for envelopes without a timestamp.
func DecodeStream(r io.Reader, now func() time.Time) ReceiveResult {
	var res ReceiveResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var w wireEnvelope
		if err := json.Unmarshal([]byte(line), &w); err != nil {
			res.Malformed = append(res.Malformed, line)
			continue
		}
		if w.Envelope.DataMsg == nil || w.Envelope.Source == "" {
			continue
		}
		at := now()
		if w.Envelope.Timestamp > 0 {
			at = time.UnixMilli(w.Envelope.Timestamp)
		}
		res.Envelopes = append(res.Envelopes, Envelope{
			Sender:     w.Envelope.Source,
			Body:       w.Envelope.DataMsg.Message,
			ReceivedAt: at,
		})
	}
	// Scanner errors (oversized line) degrade to whatever was decoded;
	// the next receive cycle starts fresh.
	return res
}
