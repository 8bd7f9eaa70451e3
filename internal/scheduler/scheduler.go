// Package scheduler holds cron and interval entries and, on each tick,
// emits spawn events for every entry whose next_fire_at has passed (§4.6).
// Expression parsing and next-fire-time math for cron entries is delegated
// to robfig/cron/v3 rather than hand-rolled.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// tickInterval is how often the ticker thread wakes to check for due
// entries (§4.6 "wakes every ~500 ms").
const tickInterval = 500 * time.Millisecond

// parser accepts standard 5-field cron plus an optional leading seconds
// field, matching §4.6's "cron expression with seconds precision".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Kind distinguishes cron entries from fixed-interval entries.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Entry is one scheduler registration (§3 "Scheduler entry").
type Entry struct {
	EntryID     int64
	CommandLine []string
	Group       string
	Kind        Kind
	Expr        string        // cron expression, if Kind == KindCron
	Interval    time.Duration // fixed period, if Kind == KindInterval

	schedule cron.Schedule
	nextFire time.Time
}

// NextFireAt returns the entry's next scheduled fire time.
func (e *Entry) NextFireAt() time.Time { return e.nextFire }

// Fire is emitted to the supervisor when an entry becomes due (§4.6,
// §4.7 SchedulerFire).
type Fire struct {
	EntryID     int64
	CommandLine []string
	Group       string
	Kind        Kind
}

// Scheduler owns the entry collections; the supervisor holds only read
// snapshots (§3 "Ownership").
type Scheduler struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry

	fires chan Fire

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler. Call Run to start its ticker goroutine.
func New() *Scheduler {
	return &Scheduler{
		entries: make(map[int64]*Entry),
		fires:   make(chan Fire, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Fires returns the channel of due-entry spawn events. The supervisor
// selects on this alongside client requests and child-exit events.
func (s *Scheduler) Fires() <-chan Fire { return s.fires }

// AddCron registers a cron entry, parsing expr with seconds precision
// (§3, §4.6). Returns ScheduleParseError-wrapped err on a bad expression
// and does not register the entry (§7).
func (s *Scheduler) AddCron(commandLine []string, group, expr string) (*Entry, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("ScheduleParseError: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := &Entry{
		EntryID:     s.nextID,
		CommandLine: commandLine,
		Group:       group,
		Kind:        KindCron,
		Expr:        expr,
		schedule:    sched,
		nextFire:    sched.Next(time.Now()),
	}
	s.entries[e.EntryID] = e
	return e, nil
}

// AddInterval registers a fixed-interval entry, firing every d starting at
// now+d.
func (s *Scheduler) AddInterval(commandLine []string, group string, d time.Duration) (*Entry, error) {
	if d <= 0 {
		return nil, fmt.Errorf("ScheduleParseError: interval must be positive, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := &Entry{
		EntryID:     s.nextID,
		CommandLine: commandLine,
		Group:       group,
		Kind:        KindInterval,
		Interval:    d,
		nextFire:    time.Now().Add(d),
	}
	s.entries[e.EntryID] = e
	return e, nil
}

// Remove deletes an entry (§3 "destroyed by stop targeting the entry").
func (s *Scheduler) Remove(entryID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
}

// List returns a snapshot of every entry, ordered by entry id ascending.
func (s *Scheduler) List() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// Run starts the ticker loop; it blocks until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// Stop halts the ticker loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// tick advances every due entry's next_fire_at past now and emits a Fire
// for each (§4.6). Entries due simultaneously are emitted in ascending
// entry_id order (§4.6 "Tie-breaks on simultaneous fires").
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.nextFire.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EntryID < due[j].EntryID })
	for _, e := range due {
		s.advanceLocked(e, now)
	}
	s.mu.Unlock()

	for _, e := range due {
		select {
		case s.fires <- Fire{EntryID: e.EntryID, CommandLine: e.CommandLine, Group: e.Group, Kind: e.Kind}:
		default:
			// The supervisor's dedicated priority lane (§5) should never be
			// this slow to drain; dropping rather than blocking the ticker
			// keeps the scheduler's own liveness independent of consumers.
		}
	}
}

// advanceLocked moves e.nextFire to the strictly-next fire time after now.
// If more than one period was missed (e.g. a clock jump), the entry fires
// once here and resynchronizes to the next time after now rather than
// catching up (§4.6). Must be called with s.mu held.
func (s *Scheduler) advanceLocked(e *Entry, now time.Time) {
	switch e.Kind {
	case KindCron:
		e.nextFire = e.schedule.Next(now)
	case KindInterval:
		next := e.nextFire.Add(e.Interval)
		for !next.After(now) {
			next = next.Add(e.Interval)
		}
		e.nextFire = next
	}
}
