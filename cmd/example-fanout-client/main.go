// example-fanout-client is a minimal reference implementation of a push
// feed consumer.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/fanout"
	"github.com/acarshub/acarshub/message"
)

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

// received pairs a message with its feed timestamp.
type received struct {
	timestamp time.Time
	msg       *message.Message
}

// handler implements the fanout.Handler interface.
type handler struct {
	messages chan received
}

// AcarsMessage is called by the feed client synchronously for every
// acars_msg event.
func (h *handler) AcarsMessage(ctx context.Context, timestamp time.Time, msg *message.Message) {
	// NOTE: until this function returns, the client cannot dispatch
	// further events, so hand off immediately to the processing
	// goroutine and drop rather than block.
	select {
	case h.messages <- received{timestamp: timestamp, msg: msg}:
		log.Println("message", "sent", msg.UID, msg.MessageType)
	default:
		log.Println("message", "skipped", msg.UID, msg.MessageType)
	}
}

// Event is called for every non-message broadcast.
func (h *handler) Event(ctx context.Context, env fanout.Envelope) {
	log.Println("broadcast", env.Event, len(env.Payload), "bytes")
}

// ProcessMessages reads and processes messages received by the handler.
func (h *handler) ProcessMessages(ctx context.Context) {
	for {
		select {
		case r := <-h.messages:
			log.Printf("processing %s %s from %s", r.msg.MessageType, r.msg.UID, r.msg.StationID)
		case <-ctx.Done():
			log.Println("shutdown")
			return
		}
	}
}

func main() {
	defer mainCancel()

	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not get args from environment variables")

	if *fanout.Filename == "" {
		log.Fatal("-fanout.socket path is required")
	}

	h := &handler{messages: make(chan received)}

	// Process messages received by the feed handler. The goroutine
	// blocks until the first message arrives.
	go h.ProcessMessages(mainCtx)

	// Begin reading the feed and dispatching events to the handler.
	go fanout.MustRun(mainCtx, *fanout.Filename, h)

	<-mainCtx.Done()
}
