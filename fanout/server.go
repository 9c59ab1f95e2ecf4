package fanout

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Server is the push-feed surface the pipeline sees: Emit never blocks
// the caller and never fails. Make real servers with New; NullServer
// gives a discarding one.
type Server interface {
	Listen() error
	Serve(ctx context.Context) error
	Emit(event string, payload interface{})
}

type server struct {
	eventC       chan *Envelope
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
}

func (s *server) addClient(c net.Conn) {
	log.Println("Adding feed client", c.RemoteAddr())
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		log.Println("Tried to remove a feed client that was not present")
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllClients(line []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := c.Write(append(line, '\n')); err != nil {
			log.Println("Write to feed client failed, removing it:", err)
			// removeClient needs the mutex, so let it block in a goroutine
			// until this method returns. That also avoids mutating
			// s.clients mid-iteration.
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	for ctx.Err() == nil {
		env := <-s.eventC
		if env == nil {
			log.Println("WARNING: nil event on the feed channel")
			continue
		}
		b, err := json.Marshal(env)
		if err != nil {
			log.Printf("WARNING: unserializable event %q: %v", env.Event, err)
			continue
		}
		s.sendToAllClients(b)
	}
}

// Emit queues one event for delivery to every connected client. The
// feed is advisory: an unserializable payload or a full backlog drops
// the event with a warning rather than blocking the pipeline.
func (s *server) Emit(event string, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WARNING: could not marshal %q payload: %v", event, err)
		return
	}
	env := &Envelope{Event: event, Timestamp: time.Now(), Payload: b}
	select {
	case s.eventC <- env:
	default:
		log.Printf("Feed backlog full; dropping %q event", event)
	}
}

// Listen returns quickly. After Listen has been called, connections to
// the server will not immediately fail; for them to succeed, Serve
// should be called.
func (s *server) Listen() error {
	var err error
	// Delete any existing socket file before trying to listen on it.
	// Unclean shutdowns leave orphaned, stale socket files around, which
	// would otherwise make the bind fail.
	os.Remove(s.filename)
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until the context is canceled. It is expected
// to be called in a goroutine, after Listen.
func (s *server) Serve(ctx context.Context) error {
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			// Transient failures must not end fan-out for the process
			// lifetime; the loop condition exits once the context closes
			// the listener.
			log.Printf("Could not Accept on socket %q: %s", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// New makes a server that serves feed clients on the provided
// unix-domain socket.
func New(filename string) Server {
	return &server{
		filename: filename,
		eventC:   make(chan *Envelope, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}
