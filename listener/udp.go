package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// UDP is the datagram variant: it binds host:port and parses each
// datagram independently. Datagrams are atomic, so there is no partial
// reassembly between them.
type UDP struct {
	cfg    Config
	events chan<- Event

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	bound  bool
	stats  Stats

	listen func(addr string) (net.PacketConn, error)
}

// NewUDP creates a UDP listener that emits onto events. A host of "*"
// binds all interfaces.
func NewUDP(cfg Config, events chan<- Event) *UDP {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = UDPReconnectDelay
	}
	if cfg.Host == "*" {
		cfg.Host = "0.0.0.0"
	}
	return &UDP{
		cfg:    cfg,
		events: events,
		listen: func(addr string) (net.PacketConn, error) {
			return net.ListenPacket("udp", addr)
		},
	}
}

// Start begins the bind/read loop. Idempotent.
func (u *UDP) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.run(ctx, u.done)
}

// Stop cancels any pending rebind and closes the socket. Idempotent.
func (u *UDP) Stop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.cancel = nil
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connected reports whether the socket is bound.
func (u *UDP) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bound
}

// GetStats returns a copy of the listener counters.
func (u *UDP) GetStats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

func (u *UDP) setBound(up bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bound = up
	if up {
		u.stats.Connects++
	} else {
		u.stats.Disconnects++
	}
}

func (u *UDP) emit(ctx context.Context, ev Event) {
	ev.Type = u.cfg.Type
	select {
	case u.events <- ev:
	case <-ctx.Done():
	}
}

func (u *UDP) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	addr := fmt.Sprintf("%s:%d", u.cfg.Host, u.cfg.Port)
	for ctx.Err() == nil {
		conn, err := u.listen(addr)
		if err != nil {
			u.emit(ctx, Event{Kind: EventError, Err: err})
			if !sleepCtx(ctx, u.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		u.setBound(true)
		u.emit(ctx, Event{Kind: EventConnected})
		u.readLoop(ctx, conn)
		u.setBound(false)
		u.emit(ctx, Event{Kind: EventDisconnected})

		if !sleepCtx(ctx, u.cfg.ReconnectDelay) {
			return
		}
	}
}

func (u *UDP) readLoop(ctx context.Context, conn net.PacketConn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				u.emit(ctx, Event{Kind: EventError, Err: err})
			}
			return
		}
		// A datagram may hold several back-to-back objects; each line
		// parses on its own or is dropped.
		for _, line := range splitObjects(buf[:n]) {
			if validJSON(line) {
				u.mu.Lock()
				u.stats.Messages++
				u.mu.Unlock()
				u.emit(ctx, Event{Kind: EventMessage, Raw: append([]byte(nil), line...)})
			} else {
				u.mu.Lock()
				u.stats.ParseErrors++
				u.mu.Unlock()
			}
		}
	}
}
