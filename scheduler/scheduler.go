// Package scheduler runs the periodic housekeeping tasks: WAL
// checkpoints, health checks, and status broadcasts. Jobs fire on
// wall-aligned intervals, optionally pinned to a specific second of the
// minute, and a panicking task never takes the scheduler down.
package scheduler

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Interval units accepted by Schedule.
const (
	Seconds = time.Second
	Minutes = time.Minute
	Hours   = time.Hour
)

// Job is one scheduled task. Configure it with At and arm it with Do.
type Job struct {
	s        *Scheduler
	name     string
	interval time.Duration
	atSecond int
	fn       func()

	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Scheduler owns a set of named jobs.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job
	dead bool

	now func() time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*Job), now: time.Now}
}

// Schedule registers a job firing every n units. The job does nothing
// until Do is called. Re-registering a name replaces the old job.
func (s *Scheduler) Schedule(name string, n int, unit time.Duration) *Job {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		old.stopLocked()
	}
	j := &Job{s: s, name: name, interval: time.Duration(n) * unit, atSecond: -1, enabled: true}
	s.jobs[name] = j
	return j
}

// At pins the job to a second of the minute, given as ":SS". Invalid
// specs are logged and ignored.
func (j *Job) At(spec string) *Job {
	sec, err := parseAt(spec)
	if err != nil {
		log.Printf("Ignoring bad at-spec %q for job %s: %v", spec, j.name, err)
		return j
	}
	j.atSecond = sec
	return j
}

func parseAt(spec string) (int, error) {
	trimmed := strings.TrimPrefix(spec, ":")
	if trimmed == spec {
		return 0, strconv.ErrSyntax
	}
	sec, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if sec < 0 || sec > 59 {
		return 0, strconv.ErrRange
	}
	return sec, nil
}

// Do arms the job with fn and starts its timer.
func (j *Job) Do(fn func()) *Job {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	if j.s.dead || j.cancel != nil {
		return j
	}
	j.fn = fn
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.run(ctx, j.done)
	return j
}

func (j *Job) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := j.nextRun(j.s.now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(j.s.now())):
			j.s.mu.Lock()
			enabled := j.enabled
			j.s.mu.Unlock()
			if enabled {
				j.invoke()
			}
		}
	}
}

// nextRun is the first instant strictly after from on the job's
// interval grid, shifted to the pinned second when one is set.
func (j *Job) nextRun(from time.Time) time.Time {
	next := from.Truncate(j.interval).Add(j.interval)
	if j.atSecond < 0 {
		return next
	}
	next = from.Truncate(j.interval).Add(time.Duration(j.atSecond) * time.Second)
	for !next.After(from) {
		next = next.Add(j.interval)
	}
	return next
}

// invoke runs the task body, containing any panic.
func (j *Job) invoke() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panicked: %v", j.name, r)
		}
	}()
	j.fn()
}

func (j *Job) stopLocked() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.cancel = nil
}

// Enable resumes a disabled job. Reports whether the name exists.
func (s *Scheduler) Enable(name string) bool { return s.setEnabled(name, true) }

// Disable keeps the job scheduled but skips its firings.
func (s *Scheduler) Disable(name string) bool { return s.setEnabled(name, false) }

func (s *Scheduler) setEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if ok {
		j.enabled = enabled
	}
	return ok
}

// Remove stops and deletes the job. Reports whether the name existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	j.stopLocked()
	delete(s.jobs, name)
	return true
}

// RunNow fires the job immediately, regardless of its schedule or
// enabled state. Reports whether the name exists.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok || j.fn == nil {
		return ok
	}
	j.invoke()
	return true
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Destroy stops every job and rejects further arming. Idempotent.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	waits := []chan struct{}{}
	for _, j := range s.jobs {
		if j.cancel != nil {
			waits = append(waits, j.done)
		}
		j.stopLocked()
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()
	for _, done := range waits {
		<-done
	}
}
