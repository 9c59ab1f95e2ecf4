package fanout

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/message"
)

func clientCount(s *server) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.clients)
}

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socket := t.TempDir() + "/feed.sock"

	srv := New(socket).(*server)
	rtx.Must(srv.Listen(), "Could not listen")
	go srv.Serve(ctx)

	c, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not open unix-domain socket")

	// Busy wait until the server has registered the client.
	for clientCount(srv) == 0 {
	}

	srv.Emit(EventStationIDs, []string{"KORD1", "KSEA2"})
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Fatal("Should have been able to scan until the next newline, but couldn't")
	}
	var env Envelope
	rtx.Must(json.Unmarshal(r.Bytes(), &env), "Could not unmarshal")
	if env.Event != EventStationIDs {
		t.Errorf("event = %q", env.Event)
	}
	var ids []string
	rtx.Must(json.Unmarshal(env.Payload, &ids), "Could not unmarshal payload")
	if diff := deep.Equal(ids, []string{"KORD1", "KSEA2"}); diff != nil {
		t.Error("Payload differed from expected:", diff)
	}

	before := time.Now()
	srv.Emit(EventMessage, &message.Message{UID: "abc", MessageType: "ACARS"})
	if !r.Scan() {
		t.Fatal("Should have been able to scan the message event")
	}
	rtx.Must(json.Unmarshal(r.Bytes(), &env), "Could not unmarshal")
	after := time.Now()
	if before.After(env.Timestamp) || after.Before(env.Timestamp) {
		t.Error("It should be true that", before, "<", env.Timestamp, "<", after)
	}

	// Close the client. When the server next tries to send, the client
	// should drop out of the active set.
	c.Close()

	// Internal error handling: a nil event and an unknown client must
	// not crash anything.
	srv.eventC <- nil
	srv.removeClient(nil)

	// The first write after close may still land in the socket buffer, so
	// keep emitting until the failed write evicts the client.
	for clientCount(srv) != 0 {
		srv.Emit(EventStatus, map[string]bool{"ok": true})
		time.Sleep(time.Millisecond)
	}
}

type testHandler struct {
	mu     sync.Mutex
	msgs   []*message.Message
	events []Envelope
	wg     sync.WaitGroup
}

func (h *testHandler) AcarsMessage(ctx context.Context, ts time.Time, msg *message.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *testHandler) Event(ctx context.Context, env Envelope) {
	h.mu.Lock()
	h.events = append(h.events, env)
	h.mu.Unlock()
	h.wg.Done()
}

func TestClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socket := t.TempDir() + "/feed.sock"

	srv := New(socket).(*server)
	rtx.Must(srv.Listen(), "Could not listen")
	srvCtx, srvCancel := context.WithCancel(context.Background())
	defer srvCancel()
	go srv.Serve(srvCtx)

	h := &testHandler{}
	h.wg.Add(2)
	clientWg := sync.WaitGroup{}
	clientWg.Add(1)
	go func() {
		MustRun(ctx, socket, h)
		clientWg.Done()
	}()

	for clientCount(srv) == 0 {
	}

	srv.Emit(EventMessage, &message.Message{UID: "m1", MessageType: "HFDL", Text: "hello"})
	srv.Emit("1hr", map[string]int{"points": 61})
	h.wg.Wait()

	h.mu.Lock()
	if len(h.msgs) != 1 || h.msgs[0].UID != "m1" || h.msgs[0].Text != "hello" {
		t.Errorf("messages = %+v", h.msgs)
	}
	if len(h.events) != 1 || h.events[0].Event != "1hr" {
		t.Errorf("events = %+v", h.events)
	}
	h.mu.Unlock()

	// Cancel the context and wait until the client stops running.
	cancel()
	clientWg.Wait()
}

func TestListenReplacesStaleSocket(t *testing.T) {
	socket := t.TempDir() + "/feed.sock"
	srv := New(socket).(*server)
	rtx.Must(srv.Listen(), "Could not listen")

	// Simulate an unclean shutdown of a previous run: the socket file is
	// still on disk when the next process starts.
	srv2 := New(socket).(*server)
	if err := srv2.Listen(); err != nil {
		t.Fatal("Listen should replace a stale socket file, got:", err)
	}
	srv.unixListener.Close()
	srv2.unixListener.Close()
}

// brokenConn fails every write and records whether it was closed.
type brokenConn struct {
	net.Conn
	once   sync.Once
	closed chan struct{}
}

func (b *brokenConn) Write(p []byte) (int, error) {
	return 0, errors.New("write to dead client")
}

func (b *brokenConn) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestFailedWriteClosesClient(t *testing.T) {
	srv := New("").(*server)
	a, bSide := net.Pipe()
	defer bSide.Close()
	c := &brokenConn{Conn: a, closed: make(chan struct{})}
	srv.addClient(c)

	srv.sendToAllClients([]byte(`{"event":"status"}`))

	// The failing client must be both evicted and closed.
	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("The failed connection was never closed")
	}
	for clientCount(srv) != 0 {
		time.Sleep(time.Millisecond)
	}
}

// flakyListener fails a few Accepts before handing out connections.
type flakyListener struct {
	failures int
	conns    chan net.Conn
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("transient accept failure")
	}
	c, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (l *flakyListener) Close() error   { close(l.conns); return nil }
func (l *flakyListener) Addr() net.Addr { return &net.UnixAddr{Name: "test", Net: "unix"} }

func TestServeSurvivesAcceptError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := New("").(*server)
	fake := &flakyListener{failures: 3, conns: make(chan net.Conn, 1)}
	srv.unixListener = fake

	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	// Clients arriving after the transient failures must still be served.
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	fake.conns <- a
	for clientCount(srv) == 0 {
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not exit after cancellation")
	}
}

func TestNullServer(t *testing.T) {
	srv := NullServer()
	rtx.Must(srv.Listen(), "Null listen should succeed")
	srv.Emit(EventMessage, "anything")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.Serve(ctx); err != nil {
		t.Errorf("null serve returned %v", err)
	}
}
