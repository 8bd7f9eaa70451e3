// Package logbuf implements the bounded, timestamped, multi-producer,
// multi-consumer log buffer described in §4.2. Entries are globally
// ordered by insertion. Producers (output pumps) never block; subscribers
// that fall too far behind are dropped rather than allowed to apply
// back-pressure.
package logbuf

import (
	"sync"
	"time"
)

// MaxLineBytes is the hard per-line length cap (§3); longer lines are
// split by the output pump before Append is called.
const MaxLineBytes = 16 * 1024

// defaultTotalByteBudget and defaultPerJobLineCap are the default eviction
// thresholds (§4.2); both are configurable via NewBufferWithLimits for tests.
const (
	defaultTotalByteBudget = 8 << 20 // 8 MiB
	defaultPerJobLineCap   = 10000
)

// lagDropThreshold is how many entries a subscriber may fall behind before
// it is dropped with LogLagged (§4.2).
const lagDropThreshold = 1000

// Entry is one captured output line.
type Entry struct {
	JobID     int64
	Seq       uint64 // monotonic sequence number, per job
	Timestamp time.Time
	Stream    string // "out" or "err"
	Line      string
}

// Subscription is returned by Subscribe; call Cancel to release it.
type Subscription struct {
	C      <-chan Entry
	Lagged <-chan int64 // delivers the job id(s) this subscriber was dropped for

	buf *Buffer
	id  uint64
}

// Cancel releases the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.buf.unsubscribe(s.id, false)
}

type subscriber struct {
	id      uint64
	ch      chan Entry
	lagged  chan int64
	jobID   int64 // 0 means "all jobs"
	stream  string
	pending int // entries queued but not yet delivered, for lag detection
}

// Buffer is the process-wide log store.
type Buffer struct {
	mu sync.Mutex

	totalByteBudget int
	perJobLineCap   int

	entries    []Entry // global ordered ring, oldest first
	totalBytes int

	perJobSeq   map[int64]uint64
	perJobCount map[int64]int

	subs      map[uint64]*subscriber
	nextSubID uint64
}

// NewBuffer constructs a Buffer with the default eviction thresholds.
func NewBuffer() *Buffer {
	return NewBufferWithLimits(defaultTotalByteBudget, defaultPerJobLineCap)
}

// NewBufferWithLimits constructs a Buffer with explicit thresholds, mainly
// for tests that want to exercise eviction without allocating megabytes.
func NewBufferWithLimits(totalByteBudget, perJobLineCap int) *Buffer {
	return &Buffer{
		totalByteBudget: totalByteBudget,
		perJobLineCap:   perJobLineCap,
		perJobSeq:       make(map[int64]uint64),
		perJobCount:     make(map[int64]int),
		subs:            make(map[uint64]*subscriber),
	}
}

// Append adds one log line for jobID/stream, stamped with the current time.
// It never blocks: subscribers that cannot keep up are dropped.
func (b *Buffer) Append(jobID int64, stream, line string) Entry {
	if len(line) > MaxLineBytes {
		line = line[:MaxLineBytes]
	}
	b.mu.Lock()
	b.perJobSeq[jobID]++
	seq := b.perJobSeq[jobID]
	e := Entry{JobID: jobID, Seq: seq, Timestamp: time.Now().UTC(), Stream: stream, Line: line}

	b.entries = append(b.entries, e)
	b.totalBytes += len(line)
	b.perJobCount[jobID]++

	b.evictLocked(jobID)

	subsToDrop := b.fanOutLocked(e)
	b.mu.Unlock()

	for _, id := range subsToDrop {
		b.unsubscribe(id, true)
	}
	return e
}

// evictLocked applies the byte-budget and per-job line-cap eviction policy.
// Must be called with b.mu held.
func (b *Buffer) evictLocked(jobID int64) {
	for b.totalBytes > b.totalByteBudget && len(b.entries) > 0 {
		oldest := b.entries[0]
		b.entries = b.entries[1:]
		b.totalBytes -= len(oldest.Line)
		b.perJobCount[oldest.JobID]--
	}
	for b.perJobCount[jobID] > b.perJobLineCap {
		for i, e := range b.entries {
			if e.JobID == jobID {
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				b.totalBytes -= len(e.Line)
				b.perJobCount[jobID]--
				break
			}
		}
	}
}

// fanOutLocked delivers e to every matching, non-blocked subscriber and
// returns the ids of subscribers that fell too far behind. Must be called
// with b.mu held; it never blocks (subscriber channels are buffered and a
// full channel just increments the lag counter instead of sending).
func (b *Buffer) fanOutLocked(e Entry) []uint64 {
	var drop []uint64
	for id, s := range b.subs {
		if s.jobID != 0 && s.jobID != e.JobID {
			continue
		}
		if s.stream != "" && s.stream != e.Stream {
			continue
		}
		select {
		case s.ch <- e:
			s.pending = 0
		default:
			s.pending++
			if s.pending > lagDropThreshold {
				drop = append(drop, id)
			}
		}
	}
	return drop
}

// Snapshot returns the last n entries (0 means all retained entries)
// matching jobID (0 = all) and stream ("" = both), sorted by timestamp
// ascending (§4.2(a)). Entries are already insertion-ordered, which for a
// single process is equivalent to timestamp order.
func (b *Buffer) Snapshot(jobID int64, stream string, n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []Entry
	for _, e := range b.entries {
		if jobID != 0 && e.JobID != jobID {
			continue
		}
		if stream != "" && e.Stream != stream {
			continue
		}
		matched = append(matched, e)
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	out := make([]Entry, len(matched))
	copy(out, matched)
	return out
}

// Subscribe registers a follow subscriber for jobID (0 = all jobs) and
// stream ("" = both streams) and returns a channel of future entries plus
// a cancel handle (§4.2(b)).
func (b *Buffer) Subscribe(jobID int64, stream string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	s := &subscriber{
		id:     id,
		ch:     make(chan Entry, 256),
		lagged: make(chan int64, 1),
		jobID:  jobID,
		stream: stream,
	}
	b.subs[id] = s
	return &Subscription{C: s.ch, Lagged: s.lagged, buf: b, id: id}
}

// unsubscribe removes a subscriber and signals its Lagged channel if it was
// dropped for lag (best-effort; safe to call after normal cancellation too).
func (b *Buffer) unsubscribe(id uint64, lagged bool) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		if lagged {
			select {
			case s.lagged <- s.jobID:
			default:
			}
		}
		close(s.ch)
	}
}

// SubscriberCount returns the number of currently live subscriptions,
// exposed for tests verifying that disconnect releases a follow stream
// (§8 scenario 5).
func (b *Buffer) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
