package listener

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// TCP is the stream variant: it dials the decoder and reads
// newline-delimited JSON objects, reconnecting forever on failure.
type TCP struct {
	cfg    Config
	events chan<- Event

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	stats     Stats

	// dial is swapped by tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewTCP creates a TCP listener that emits onto events.
func NewTCP(cfg Config, events chan<- Event) *TCP {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = TCPReconnectDelay
	}
	return &TCP{
		cfg:    cfg,
		events: events,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Start begins the connect/read loop. Calling Start on a running listener
// is a no-op.
func (t *TCP) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// Stop cancels any pending reconnect and closes the connection. Calling
// Stop on a stopped listener is a no-op.
func (t *TCP) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connected reports whether the stream is currently up.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// GetStats returns a copy of the listener counters.
func (t *TCP) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *TCP) setConnected(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = up
	if up {
		t.stats.Connects++
	} else {
		t.stats.Disconnects++
	}
}

func (t *TCP) emit(ctx context.Context, ev Event) {
	ev.Type = t.cfg.Type
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

func (t *TCP) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	for ctx.Err() == nil {
		conn, err := t.dial(ctx, addr)
		if err != nil {
			t.emit(ctx, Event{Kind: EventError, Err: err})
			if !sleepCtx(ctx, t.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		t.setConnected(true)
		t.emit(ctx, Event{Kind: EventConnected})
		t.readLoop(ctx, conn)
		t.setConnected(false)
		t.emit(ctx, Event{Kind: EventDisconnected})

		if !sleepCtx(ctx, t.cfg.ReconnectDelay) {
			return
		}
	}
}

// readLoop reads the stream until error or cancellation. A partial object
// at the end of one read is held back and prepended to the next read; if
// the reassembled line still fails to parse it is discarded.
func (t *TCP) readLoop(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the pending Read when the listener is stopped.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	var partial []byte

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			partial = t.process(ctx, append(partial, buf[:n]...), len(partial) > 0)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle stream; decoders are often quiet for minutes.
				continue
			}
			// EOF is a normal stream end, not an error event.
			if err != io.EOF && ctx.Err() == nil {
				t.emit(ctx, Event{Kind: EventError, Err: err})
			}
			return
		}
	}
}

// process splits a chunk into objects and emits each valid one. The
// returned slice is the unparseable tail, if any, to prepend to the next
// read. reassembled marks chunks whose head is a retried partial; a line
// that fails twice is dropped rather than buffered again.
func (t *TCP) process(ctx context.Context, chunk []byte, reassembled bool) []byte {
	lines := splitObjects(chunk)
	for i, line := range lines {
		if validJSON(line) {
			t.mu.Lock()
			t.stats.Messages++
			t.mu.Unlock()
			t.emit(ctx, Event{Kind: EventMessage, Raw: append([]byte(nil), line...)})
			continue
		}
		if i == len(lines)-1 {
			if reassembled && i == 0 {
				// Already retried once; give up on this tail.
				t.noteParseError(line)
				return nil
			}
			return append([]byte(nil), line...)
		}
		t.noteParseError(line)
	}
	return nil
}

func (t *TCP) noteParseError(line []byte) {
	t.mu.Lock()
	t.stats.ParseErrors++
	t.mu.Unlock()
	log.Printf("Discarding unparseable %s line (%d bytes)", t.cfg.Type, len(line))
}

// sleepCtx waits for d, returning false if the context was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
