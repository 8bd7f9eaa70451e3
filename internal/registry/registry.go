// Package registry implements the process-wide indexed collection of job
// records described in §4.3: a dense job-id index plus secondary indices by
// pid and by command identity, with single-instance enforcement for
// services (I1).
package registry

import (
	"errors"
	"strings"
	"sync"

	"github.com/ianlt/shelld/internal/jobspec"
)

// ErrAlreadyRunning is returned by Insert when a service's command identity
// already has an active record (I1).
var ErrAlreadyRunning = errors.New("AlreadyRunning")

// Registry is the supervisor's sole store of job records. All mutating
// methods are safe for concurrent use, but per §3 "Ownership" only the
// supervisor's event loop is expected to call them.
type Registry struct {
	mu sync.Mutex

	nextID int64
	byID   map[int64]*jobspec.Record
	byPID  map[int]int64      // pid -> job id, only for state == running
	byCmd  map[string][]int64 // command identity -> job ids (any state)
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byID:  make(map[int64]*jobspec.Record),
		byPID: make(map[int]int64),
		byCmd: make(map[string][]int64),
	}
}

// commandIdentity canonicalizes a command line into the string key used for
// command-identity matching (§3, §4.3).
func commandIdentity(cmd []string) string {
	return strings.Join(cmd, "\x00")
}

// Insert assigns a new job id and stores record, enforcing I1 for services:
// a service whose command identity already has a record in pending/running/
// backoff is refused with ErrAlreadyRunning, returning that record's id.
func (r *Registry) Insert(rec *jobspec.Record) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Kind == jobspec.KindService {
		key := commandIdentity(rec.CommandLine)
		for _, id := range r.byCmd[key] {
			existing := r.byID[id]
			if existing != nil && existing.State.Active() {
				return existing.JobID, ErrAlreadyRunning
			}
		}
	}

	r.nextID++
	rec.JobID = r.nextID
	r.byID[rec.JobID] = rec

	key := commandIdentity(rec.CommandLine)
	r.byCmd[key] = append(r.byCmd[key], rec.JobID)

	if rec.State == jobspec.StateRunning && rec.PID > 0 {
		r.byPID[rec.PID] = rec.JobID
	}

	return rec.JobID, nil
}

// ByID returns the record for jobID, or nil if absent.
func (r *Registry) ByID(jobID int64) *jobspec.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[jobID]
}

// ByPID returns the record currently running with the given pid, or nil.
func (r *Registry) ByPID(pid int) *jobspec.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPID[pid]
	if !ok {
		return nil
	}
	return r.byID[id]
}

// ByCommand returns every record (any state) matching cmd's command
// identity, most recently inserted first.
func (r *Registry) ByCommand(cmd []string) []*jobspec.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byCmd[commandIdentity(cmd)]
	out := make([]*jobspec.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if rec := r.byID[ids[i]]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Filter selects records for List.
type Filter struct {
	Group string // "" = no filter
}

// List returns a snapshot of every record matching filter, ordered by job
// id ascending (O3: a consistent snapshot taken under the registry's lock).
func (r *Registry) List(filter Filter) []jobspec.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]jobspec.Snapshot, 0, len(r.byID))
	ids := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	for _, id := range ids {
		rec := r.byID[id]
		if filter.Group != "" && rec.Group != filter.Group {
			continue
		}
		out = append(out, rec.Snapshot())
	}
	return out
}

// ActiveInGroup returns every active (pending/running/backoff) record in
// group, for the `down` operation.
func (r *Registry) ActiveInGroup(group string) []*jobspec.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*jobspec.Record
	for _, rec := range r.byID {
		if rec.Group == group && rec.State.Active() {
			out = append(out, rec)
		}
	}
	return out
}

// Update applies mutator to the record identified by jobID under the
// registry's lock, keeping the pid index consistent with any state/pid
// change the mutator makes. Returns false if jobID is unknown.
func (r *Registry) Update(jobID int64, mutator func(*jobspec.Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[jobID]
	if !ok {
		return false
	}

	prevPID := rec.PID
	prevState := rec.State
	mutator(rec)

	if prevState == jobspec.StateRunning && prevPID > 0 && (rec.State != jobspec.StateRunning || rec.PID != prevPID) {
		if r.byPID[prevPID] == jobID {
			delete(r.byPID, prevPID)
		}
	}
	if rec.State == jobspec.StateRunning && rec.PID > 0 {
		r.byPID[rec.PID] = jobID
	}
	return true
}

// Remove deletes jobID from every index. The supervisor never calls it:
// terminal records stay in the registry (§4.7 "registry keeps record for
// `jobs` listing").
func (r *Registry) Remove(jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[jobID]
	if !ok {
		return
	}
	if rec.State == jobspec.StateRunning && r.byPID[rec.PID] == jobID {
		delete(r.byPID, rec.PID)
	}
	key := commandIdentity(rec.CommandLine)
	ids := r.byCmd[key]
	for i, id := range ids {
		if id == jobID {
			r.byCmd[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	delete(r.byID, jobID)
}

func sortInt64s(ids []int64) {
	// Small N (bounded by concurrently tracked jobs); insertion sort avoids
	// pulling in sort for a handful of comparisons inside the lock.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
