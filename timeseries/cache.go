package timeseries

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
)

// Period names one canonical query window.
type Period string

// The eight cached windows.
const (
	Period1Hour   = Period("1hr")
	Period6Hour   = Period("6hr")
	Period12Hour  = Period("12hr")
	Period24Hour  = Period("24hr")
	Period1Week   = Period("1wk")
	Period30Day   = Period("30day")
	Period6Month  = Period("6mon")
	Period1Year   = Period("1yr")
)

// Periods lists every cached window.
var Periods = []Period{
	Period1Hour, Period6Hour, Period12Hour, Period24Hour,
	Period1Week, Period30Day, Period6Month, Period1Year,
}

// periodSpec fixes a window's span, downsample step, and how often its
// snapshot is refreshed.
type periodSpec struct {
	span    time.Duration
	bucket  time.Duration
	refresh time.Duration
}

var periodSpecs = map[Period]periodSpec{
	Period1Hour:  {time.Hour, time.Minute, time.Minute},
	Period6Hour:  {6 * time.Hour, time.Minute, time.Minute},
	Period12Hour: {12 * time.Hour, time.Minute, time.Minute},
	Period24Hour: {24 * time.Hour, 5 * time.Minute, 5 * time.Minute},
	Period1Week:  {7 * 24 * time.Hour, 30 * time.Minute, 30 * time.Minute},
	Period30Day:  {30 * 24 * time.Hour, time.Hour, time.Hour},
	Period6Month: {182 * 24 * time.Hour, 6 * time.Hour, 6 * time.Hour},
	Period1Year:  {365 * 24 * time.Hour, 12 * time.Hour, 6 * time.Hour},
}

// DataPoint is one plotted bucket. Timestamps are milliseconds for the
// charting clients.
type DataPoint struct {
	TimestampMs int64 `json:"timestamp_ms"`
	AcarsCount  int64 `json:"acars_count"`
	VdlmCount   int64 `json:"vdlm_count"`
	HfdlCount   int64 `json:"hfdl_count"`
	ImslCount   int64 `json:"imsl_count"`
	IrdmCount   int64 `json:"irdm_count"`
	TotalCount  int64 `json:"total_count"`
	ErrorCount  int64 `json:"error_count"`
}

// Snapshot is one precomputed window response. Snapshots are immutable
// once published; refreshes replace the whole pointer.
type Snapshot struct {
	TimePeriod string      `json:"time_period"`
	StartMs    int64       `json:"start_ms"`
	EndMs      int64       `json:"end_ms"`
	Points     int         `json:"points"`
	Data       []DataPoint `json:"data"`
}

// Broadcaster receives each refreshed snapshot. The initial warm does
// not broadcast.
type Broadcaster func(Period, *Snapshot)

// Cache holds one precomputed snapshot per period and refreshes each on
// its wall-aligned interval.
type Cache struct {
	db        *db.DB
	broadcast Broadcaster

	mu        sync.Mutex
	snapshots map[Period]*Snapshot
	cancel    context.CancelFunc
	done      chan struct{}

	now func() time.Time
}

// NewCache creates an unwarmed cache.
func NewCache(d *db.DB) *Cache {
	return &Cache{
		db:        d,
		snapshots: make(map[Period]*Snapshot, len(Periods)),
		now:       time.Now,
	}
}

// Init warms every period synchronously, then arms the refresh timers.
// Idempotent; a second call while running does nothing.
func (c *Cache) Init(b Broadcaster) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.broadcast = b
	c.mu.Unlock()

	for _, p := range Periods {
		if err := c.refresh(p, false); err != nil {
			log.Printf("Could not warm %s window: %v", p, err)
		}
	}

	go c.run(ctx, c.done)
}

// Stop cancels the refresh timers. Idempotent.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Get returns the current snapshot for p by reference, without touching
// the database. Nil before the first warm or for an unknown period.
func (c *Cache) Get(p Period) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[p]
}

// run fires each period's refresh on its wall-aligned schedule. Aligning
// to the boundary on every pass, rather than ticking a fixed interval,
// keeps drift from accumulating.
func (c *Cache) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	var wg sync.WaitGroup
	intervals := map[time.Duration][]Period{}
	for _, p := range Periods {
		iv := periodSpecs[p].refresh
		intervals[iv] = append(intervals[iv], p)
	}
	for iv, group := range intervals {
		wg.Add(1)
		go func(iv time.Duration, group []Period) {
			defer wg.Done()
			for {
				next := nextAligned(c.now(), iv)
				select {
				case <-ctx.Done():
					return
				case <-time.After(next.Sub(c.now())):
					for _, p := range group {
						if err := c.refresh(p, true); err != nil {
							log.Printf("Could not refresh %s window: %v", p, err)
						}
					}
				}
			}
		}(iv, group)
	}
	wg.Wait()
}

// refresh rebuilds one period's snapshot and publishes it atomically.
func (c *Cache) refresh(p Period, announce bool) error {
	spec := periodSpecs[p]
	end := c.now().Unix()
	start := end - int64(spec.span/time.Second)

	rows, err := c.db.QueryTimeSeries(start, end, int64(spec.bucket/time.Second))
	if err != nil {
		return err
	}
	snap := buildSnapshot(p, start, end, int64(spec.bucket/time.Second), rows)

	c.mu.Lock()
	c.snapshots[p] = snap
	b := c.broadcast
	c.mu.Unlock()

	if announce && b != nil {
		b(p, snap)
	}
	return nil
}

// buildSnapshot zero-fills the queried rows so every bucket in
// [start, end] at the downsample step exists.
func buildSnapshot(p Period, start, end, bucket int64, rows []db.TimeSeriesRow) *Snapshot {
	byTs := make(map[int64]db.TimeSeriesRow, len(rows))
	for _, r := range rows {
		byTs[r.Timestamp] = r
	}

	data := []DataPoint{}
	for ts := (start / bucket) * bucket; ts <= end; ts += bucket {
		r := byTs[ts]
		data = append(data, DataPoint{
			TimestampMs: message.UnixToMs(ts),
			AcarsCount:  r.Acars,
			VdlmCount:   r.Vdlm,
			HfdlCount:   r.Hfdl,
			ImslCount:   r.Imsl,
			IrdmCount:   r.Irdm,
			TotalCount:  r.Total,
			ErrorCount:  r.Errors,
		})
	}
	return &Snapshot{
		TimePeriod: string(p),
		StartMs:    message.UnixToMs(start),
		EndMs:      message.UnixToMs(end),
		Points:     len(data),
		Data:       data,
	}
}
