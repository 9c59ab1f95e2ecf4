// Package timeseries maintains the minute-resolution statistics table:
// a writer that persists the queue's per-minute counters on each minute
// boundary, and a cache that precomputes the canonical query windows.
package timeseries

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
	"github.com/acarshub/acarshub/queue"
)

// Writer persists one "1min" row per wall-clock minute and then resets
// the queue's minute counters. The write and the reset are one logical
// operation on the writer goroutine.
type Writer struct {
	db *db.DB
	q  *queue.Queue

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// now is swapped by tests.
	now func() time.Time
}

// NewWriter creates a stopped writer.
func NewWriter(d *db.DB, q *queue.Queue) *Writer {
	return &Writer{db: d, q: q, now: time.Now}
}

// Start arms the writer: the first row lands on the next wall-clock :00
// second, subsequent rows every 60 s. Idempotent.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
}

// Stop cancels the writer. Idempotent.
func (w *Writer) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Writer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := nextAligned(w.now(), time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(w.now())):
			w.writeMinute(next.Unix())
		}
	}
}

// writeMinute snapshots the queue counters into one row, then resets
// the minute slice. A failed insert is logged and the counters are
// still reset, so one bad minute cannot double-count into the next.
func (w *Writer) writeMinute(ts int64) {
	stats := w.q.GetStats()
	row := db.TimeSeriesRow{
		Timestamp:  ts,
		Resolution: "1min",
		Acars:      stats.Types[message.TypeACARS].LastMinute,
		Vdlm:       stats.Types[message.TypeVDLM2].LastMinute,
		Hfdl:       stats.Types[message.TypeHFDL].LastMinute,
		Imsl:       stats.Types[message.TypeIMSL].LastMinute,
		Irdm:       stats.Types[message.TypeIRDM].LastMinute,
		Errors:     stats.Errors.LastMinute,
	}
	row.Total = row.Acars + row.Vdlm + row.Hfdl + row.Imsl + row.Irdm

	if err := w.db.InsertTimeSeries(row); err != nil {
		log.Println("Could not write minute row:", err)
	}
	w.q.ResetMinuteStats()
}

// nextAligned returns the first instant strictly after t that falls on
// a wall-clock multiple of interval.
func nextAligned(t time.Time, interval time.Duration) time.Time {
	return t.Truncate(interval).Add(interval)
}
