package listener

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func collect(events <-chan Event, want int, timeout time.Duration) []Event {
	out := []Event{}
	deadline := time.After(timeout)
	for len(out) < want {
		select {
		case ev := <-events:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestSplitObjects(t *testing.T) {
	lines := splitObjects([]byte(`{"a":1}{"b":2}` + "\n" + `{"c":3}`))
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for _, l := range lines {
		if !validJSON(l) {
			t.Errorf("line %q should be valid", l)
		}
	}
}

func TestProcessReassembly(t *testing.T) {
	events := make(chan Event, 16)
	tl := NewTCP(Config{Type: "ACARS"}, events)
	ctx := context.Background()

	// A read ending mid-object buffers the tail.
	partial := tl.process(ctx, []byte(`{"a":1}`+"\n"+`{"b":`), false)
	if string(partial) != `{"b":` {
		t.Fatalf("partial = %q", partial)
	}
	if got := collect(events, 1, time.Second); len(got) != 1 || string(got[0].Raw) != `{"a":1}` {
		t.Fatalf("events = %+v", got)
	}

	// The next read completes it.
	partial = tl.process(ctx, append(partial, []byte(`2}`+"\n")...), true)
	if partial != nil {
		t.Fatalf("partial = %q, want consumed", partial)
	}
	if got := collect(events, 1, time.Second); len(got) != 1 || string(got[0].Raw) != `{"b":2}` {
		t.Fatalf("events = %+v", got)
	}

	// A reassembled line that still fails is discarded, not re-buffered.
	partial = tl.process(ctx, []byte(`{"broken`), false)
	partial = tl.process(ctx, append(partial, []byte(` still broken`)...), true)
	if partial != nil {
		t.Fatalf("partial = %q, want discarded", partial)
	}
	if tl.GetStats().ParseErrors != 1 {
		t.Errorf("parse errors = %d", tl.GetStats().ParseErrors)
	}
}

func TestTCPListenerLifecycle(t *testing.T) {
	events := make(chan Event, 64)
	server, client := net.Pipe()
	dials := 0

	tl := NewTCP(Config{Type: "VDLM2", Host: "127.0.0.1", Port: 5555, ReconnectDelay: 10 * time.Millisecond}, events)
	tl.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		dials++
		if dials == 1 {
			return client, nil
		}
		return nil, errors.New("connection refused")
	}

	tl.Start()
	tl.Start() // no-op

	go func() {
		server.Write([]byte(`{"vdl2":{"freq":136975}}` + "\n"))
		server.Close()
	}()

	got := collect(events, 3, 2*time.Second)
	if len(got) < 3 {
		t.Fatalf("expected connected+message+disconnected, got %+v", got)
	}
	if got[0].Kind != EventConnected {
		t.Errorf("first event = %v", got[0].Kind)
	}
	if got[1].Kind != EventMessage || string(got[1].Raw) != `{"vdl2":{"freq":136975}}` {
		t.Errorf("message event = %+v", got[1])
	}
	if got[1].Type != "VDLM2" {
		t.Errorf("event type = %q", got[1].Type)
	}
	if got[2].Kind != EventDisconnected {
		t.Errorf("third event = %v", got[2].Kind)
	}
	if tl.Connected() {
		t.Error("should not report connected after disconnect")
	}

	// Reconnect attempts fail and surface as error events.
	if errs := collect(events, 1, 2*time.Second); len(errs) == 0 || errs[0].Kind != EventError {
		t.Errorf("expected reconnect error event, got %+v", errs)
	}

	tl.Stop()
	tl.Stop() // no-op

	stats := tl.GetStats()
	if stats.Messages != 1 || stats.Connects != 1 || stats.Disconnects != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// fakePacketConn replays a fixed set of datagrams, then blocks until
// closed.
type fakePacketConn struct {
	net.PacketConn
	datagrams [][]byte
	closed    chan struct{}
}

func (f *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if len(f.datagrams) == 0 {
		<-f.closed
		return 0, nil, errors.New("use of closed network connection")
	}
	d := f.datagrams[0]
	f.datagrams = f.datagrams[1:]
	copy(b, d)
	return len(d), nil, nil
}

func (f *fakePacketConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func TestUDPListener(t *testing.T) {
	events := make(chan Event, 64)
	conn := &fakePacketConn{
		datagrams: [][]byte{
			[]byte(`{"a":1}{"b":2}`),
			[]byte(`garbage`),
		},
		closed: make(chan struct{}),
	}

	ul := NewUDP(Config{Type: "HFDL", Host: "*", Port: 5556, ReconnectDelay: 10 * time.Millisecond}, events)
	if ul.cfg.Host != "0.0.0.0" {
		t.Errorf("host = %q, want * mapped to 0.0.0.0", ul.cfg.Host)
	}
	bound := 0
	ul.listen = func(addr string) (net.PacketConn, error) {
		bound++
		if bound == 1 {
			return nil, errors.New("address in use")
		}
		return conn, nil
	}

	ul.Start()
	got := collect(events, 4, 2*time.Second)
	ul.Stop()

	kinds := []EventKind{}
	msgs := []string{}
	for _, ev := range got {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventMessage {
			msgs = append(msgs, string(ev.Raw))
		}
	}
	if len(kinds) < 4 || kinds[0] != EventError || kinds[1] != EventConnected {
		t.Fatalf("events = %v", kinds)
	}
	if len(msgs) != 2 || msgs[0] != `{"a":1}` || msgs[1] != `{"b":2}` {
		t.Errorf("messages = %q", msgs)
	}
	if stats := ul.GetStats(); stats.Messages != 2 || stats.ParseErrors != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
