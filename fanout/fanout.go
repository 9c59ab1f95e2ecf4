// Package fanout serves the push feed: every enriched message and every
// periodic status broadcast is written as one JSON line to each client
// connected to a unix-domain socket. The pipeline only ever calls Emit;
// the wire transport stays behind this package.
package fanout

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net"
	"strings"
	"time"

	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/message"
)

var (
	// Filename is a command-line flag holding the name of the unix-domain
	// socket on which the push feed is served. It is put here so the server
	// and every client tool share one standard flag name.
	Filename = flag.String("fanout.socket", "", "The filename of the unix-domain socket on which the push feed is served.")
)

// Well-known event names on the feed. Time-series broadcasts use the
// period name itself ("1hr", "24hr", ...) as the event.
const (
	EventMessage    = "acars_msg"
	EventStationIDs = "station_ids"
	EventStatus     = "status"
	EventSignals    = "signal"
	EventFreqs      = "signal_freqs"
)

// Envelope is one line of the feed.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handler is the interface feed consumers implement. AcarsMessage is
// called for every acars_msg event; every other event lands on Event.
type Handler interface {
	AcarsMessage(ctx context.Context, timestamp time.Time, msg *message.Message)
	Event(ctx context.Context, env Envelope)
}

// MustRun reads from the socket until the context is cancelled,
// dispatching each line to the handler. Any errors are fatal.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not connect to %q", socket)
	go func() {
		// Closing the connection terminates the scanner below.
		<-ctx.Done()
		c.Close()
	}()

	// bufio.Scanner splits on newlines, which is exactly the JSONL framing.
	s := bufio.NewScanner(c)
	for s.Scan() {
		var env Envelope
		rtx.Must(json.Unmarshal(s.Bytes(), &env), "Could not unmarshal feed line")
		if env.Event == EventMessage {
			var msg message.Message
			rtx.Must(json.Unmarshal(env.Payload, &msg), "Could not unmarshal message payload")
			handler.AcarsMessage(ctx, env.Timestamp, &msg)
			continue
		}
		handler.Event(ctx, env)
	}

	// Scanner hides the EOF error because EOF is how streams normally end.
	// Reading on a connection we closed ourselves fails with an unexported
	// error instead, which deserves the same treatment. Anything else is
	// real.
	err = s.Err()
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}
	rtx.Must(err, "Scanning of %s died with non-EOF error", socket)
}

// nullServer discards every event. Used when no socket is configured.
type nullServer struct{}

func (nullServer) Listen() error                   { return nil }
func (nullServer) Serve(ctx context.Context) error { <-ctx.Done(); return nil }
func (nullServer) Emit(event string, payload interface{}) {}

// NullServer returns a Server that accepts no clients and drops every
// Emit, so callers never need to check whether the feed is enabled.
func NullServer() Server {
	return nullServer{}
}

var _ Server = nullServer{}
