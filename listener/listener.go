// Package listener maintains the connections to the upstream decoders and
// emits validated JSON objects. There are two variants with one contract:
// a reconnecting TCP client for stream decoders and a UDP socket for
// datagram decoders.
package listener

import (
	"bytes"
	"encoding/json"
	"time"
)

// Defaults for the two variants.
const (
	TCPReconnectDelay = 1 * time.Second
	UDPReconnectDelay = 5 * time.Second
	IdleTimeout       = 5 * time.Minute
	readBufferSize    = 65536
)

// EventKind tags entries on the listener event channel.
type EventKind int

const (
	// EventMessage carries one validated JSON object from the decoder.
	EventMessage = EventKind(iota)
	// EventConnected is emitted when the stream connects (TCP) or the
	// socket binds (UDP).
	EventConnected
	// EventDisconnected is emitted when the stream drops.
	EventDisconnected
	// EventError is emitted for socket errors; the listener keeps
	// retrying regardless.
	EventError
)

// Event is one occurrence on a listener. Type is the decoder type the
// listener was configured with.
type Event struct {
	Kind EventKind
	Type string
	Raw  []byte
	Err  error
}

// Stats counts listener activity since start.
type Stats struct {
	Messages    int64
	ParseErrors int64
	Connects    int64
	Disconnects int64
}

// Listener is the shared contract of the TCP and UDP variants. Start and
// Stop are idempotent.
type Listener interface {
	Start()
	Stop()
	Connected() bool
	GetStats() Stats
}

// Config describes one decoder endpoint.
type Config struct {
	// Type is the decoder type ("ACARS", "VDLM2", ...) stamped on every
	// event.
	Type string
	Host string
	Port int
	// ReconnectDelay overrides the variant default when positive.
	ReconnectDelay time.Duration
}

// fixupConcatenated rewrites back-to-back objects ("}{") as
// newline-separated objects. Some decoders omit the separator when
// messages queue up on their side.
func fixupConcatenated(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("}{"), []byte("}\n{"))
}

// splitObjects applies the }{ fixup and splits the chunk into candidate
// JSON lines, dropping empty lines.
func splitObjects(data []byte) [][]byte {
	lines := bytes.Split(fixupConcatenated(data), []byte("\n"))
	out := lines[:0]
	for _, l := range lines {
		if len(bytes.TrimSpace(l)) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// validJSON reports whether the line is a complete JSON object.
func validJSON(line []byte) bool {
	return json.Valid(line)
}
