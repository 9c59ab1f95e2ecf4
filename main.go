// acarshub aggregates decoded ACARS-family telemetry: it listens to the
// upstream decoders, normalizes and enriches every message, persists the
// archive and histograms, maintains minute-resolution statistics, and
// fans enriched messages out to push-feed and websocket clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acarshub/acarshub/api"
	"github.com/acarshub/acarshub/config"
	"github.com/acarshub/acarshub/coverage"
	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/enrich"
	"github.com/acarshub/acarshub/fanout"
	"github.com/acarshub/acarshub/formatter"
	"github.com/acarshub/acarshub/listener"
	"github.com/acarshub/acarshub/loader"
	"github.com/acarshub/acarshub/metrics"
	"github.com/acarshub/acarshub/queue"
	"github.com/acarshub/acarshub/rrd"
	"github.com/acarshub/acarshub/scheduler"
	"github.com/acarshub/acarshub/timeseries"
)

// Version is stamped by the build.
var Version = "3.0.0"

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// emitter duplicates each push event onto every configured surface
// (the unix-socket feed and the websocket bridge).
type emitter struct {
	feed   fanout.Server
	bridge *api.Server
}

func (e emitter) emit(event string, payload interface{}) {
	e.feed.Emit(event, payload)
	if e.bridge != nil {
		e.bridge.Emit(event, payload)
	}
}

// checkHealth probes the database, so a degraded store shows up in the
// logs even when nobody polls /health.
func checkHealth(d *db.DB) error {
	_, err := d.RowCount()
	return err
}

// statusPayload is the periodic status broadcast.
func statusPayload(listeners map[string]listener.Listener, q *queue.Queue, d *db.DB) map[string]interface{} {
	decoders := map[string]bool{}
	for typ, l := range listeners {
		decoders[typ] = l.Connected()
	}
	stats := q.GetStats()
	return map[string]interface{}{
		"decoders":    decoders,
		"queue_depth": q.Len(),
		"overflow":    stats.Overflow,
		"total":       stats.Total,
		"alert_terms": d.AlertTermCount(),
	}
}

func main() {
	defer mainCancel()

	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	cfg, err := flags.Config()
	rtx.Must(err, "Bad configuration")

	// Database first: migrations run on a worker and startup blocks on
	// the signal, so nothing can touch the schema mid-change.
	d, err := db.Open(cfg.DBPath)
	rtx.Must(err, "Could not open database %q", cfg.DBPath)
	defer d.Close()
	rtx.Must(<-d.MigrateAsync(), "Schema migration failed")
	d.StartupCheckpoint()
	rtx.Must(d.SeedStations(), "Could not seed the station registry")
	d.SetAlertTerms(cfg.AlertTerms, cfg.AlertIgnore)

	// One-shot startup tasks; failures are logged and skipped.
	if cfg.RRDPath != "" {
		if err := rrd.NewImporter(d, cfg.RRDPath, nil).Import(); err != nil {
			log.Println("Archive import failed:", err)
		}
	}
	var cov *coverage.Service
	if cfg.HeywhatsthatID != "" && cfg.HeywhatsthatSave != "" {
		cov = coverage.New(cfg.HeywhatsthatID, cfg.HeywhatsthatAlts, cfg.HeywhatsthatSave)
		if err := cov.Snapshot(); err != nil {
			log.Println("Coverage snapshot failed:", err)
		}
	}

	tables, err := loader.Load(loader.Paths{
		Airlines:         cfg.AirlinesPath,
		AirlineOverrides: cfg.AirlineOverridesPath,
		Airports:         cfg.AirportsPath,
		GroundStations:   cfg.GroundStationsPath,
		Labels:           cfg.LabelsPath,
	})
	rtx.Must(err, "Could not load lookup tables")
	enricher := enrich.New(tables)

	// Push surfaces.
	feed := fanout.NullServer()
	if *fanout.Filename != "" {
		feed = fanout.New(*fanout.Filename)
		rtx.Must(feed.Listen(), "Could not listen on %q", *fanout.Filename)
		go feed.Serve(mainCtx)
	}
	q := queue.New(cfg.QueueCapacity)
	apiServer := api.New(d, q, cov, Version)
	out := emitter{feed: feed, bridge: apiServer}

	// Listeners feed one shared event channel.
	events := make(chan listener.Event, 256)
	listeners := map[string]listener.Listener{}
	for _, dec := range cfg.Decoders {
		lcfg := listener.Config{Type: dec.Type, Host: dec.Host, Port: dec.Port}
		var l listener.Listener
		if dec.ListenType == "udp" {
			l = listener.NewUDP(lcfg, events)
		} else {
			l = listener.NewTCP(lcfg, events)
		}
		listeners[dec.Type] = l
		l.Start()
	}

	// Normalize, enrich, queue.
	go func() {
		for ev := range events {
			switch ev.Kind {
			case listener.EventMessage:
				metrics.ReceivedMessages.With(prometheus.Labels{"decoder": ev.Type}).Inc()
				msg, err := formatter.Normalize(ev.Raw, time.Now())
				if err != nil {
					metrics.ErrorCount.With(prometheus.Labels{"type": "formatter"}).Inc()
					if cfg.Verbose {
						log.Printf("Dropping unparseable %s message: %v", ev.Type, err)
					}
					continue
				}
				if msg == nil {
					continue
				}
				q.Push(ev.Type, enricher.Enrich(msg))
			case listener.EventConnected:
				log.Println(ev.Type, "connected")
			case listener.EventDisconnected:
				log.Println(ev.Type, "disconnected")
			case listener.EventError:
				metrics.ErrorCount.With(prometheus.Labels{"type": "listener"}).Inc()
				if cfg.Verbose {
					log.Printf("%s listener: %v", ev.Type, ev.Err)
				}
			}
		}
	}()

	// Persist and fan out.
	go func() {
		for ev := range q.Events() {
			switch ev.Kind {
			case queue.EventMessage:
				item, ok := q.Pop()
				if !ok {
					continue
				}
				saved, newStation, err := d.SaveMessage(*item.Msg)
				if err != nil {
					log.Println("Could not persist message:", err)
					continue
				}
				out.emit(fanout.EventMessage, saved)
				if newStation {
					out.emit(fanout.EventStationIDs, d.StationIDs())
				}
			case queue.EventOverflow:
				metrics.QueueOverflows.Inc()
			}
		}
	}()

	// Minute writer and window cache.
	writer := timeseries.NewWriter(d, q)
	writer.Start()
	cache := timeseries.NewCache(d)
	cache.Init(func(p timeseries.Period, snap *timeseries.Snapshot) {
		out.emit(string(p), snap)
	})

	// Housekeeping.
	sched := scheduler.New()
	sched.Schedule("wal-checkpoint", 15, scheduler.Minutes).At(":30").Do(func() {
		res, err := d.Checkpoint(db.CheckpointFull)
		if err != nil {
			log.Println("Checkpoint failed:", err)
			return
		}
		if cfg.Verbose {
			log.Printf("Checkpoint: %d flushed, %d remaining", res.FramesCheckpointed, res.FramesRemaining)
		}
	})
	sched.Schedule("status", 1, scheduler.Minutes).At(":15").Do(func() {
		out.emit(fanout.EventStatus, statusPayload(listeners, q, d))
	})
	sched.Schedule("health", 5, scheduler.Minutes).At(":45").Do(func() {
		if err := checkHealth(d); err != nil {
			log.Println("Health check failed:", err)
		}
	})
	sched.Schedule("histograms", 5, scheduler.Minutes).Do(func() {
		if levels, err := d.GetAllSignalLevels(); err == nil {
			out.emit(fanout.EventSignals, levels)
		}
		if freqs, err := d.GetAllFreqCounts(); err == nil {
			out.emit(fanout.EventFreqs, freqs)
		}
	})

	// HTTP last, once everything it reports on exists.
	metrics.Register(prometheus.DefaultRegisterer, d, metrics.Config{
		Version: Version,
		Enabled: cfg.EnabledTypes(),
	})
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	log.Printf("acarshub %s listening on %s with %d decoders", Version, httpServer.Addr, len(listeners))

	// Run until signalled, then unwind in dependency order: stop the
	// producers, stop the timers, drain what is still queued.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Println("Shutting down on", sig)
	case <-mainCtx.Done():
	}

	for _, l := range listeners {
		l.Stop()
	}
	sched.Destroy()
	cache.Stop()
	writer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	for _, item := range q.PopAll() {
		if _, _, err := d.SaveMessage(*item.Msg); err != nil {
			log.Println("Could not persist queued message during shutdown:", err)
		}
	}
	q.Destroy()
	mainCancel()
}
