// Package jobspec defines the shared job record types used by the registry
// and the supervisor, and the pure restart-policy function that decides
// whether and when a job should respawn after it exits.
package jobspec

import (
	"math/rand"
	"time"
)

// Kind tags the four ways a job can come to exist. Restart policy is a
// pure function of Kind rather than a subclass hierarchy.
type Kind int

const (
	// KindCommand is a one-shot command submitted via run.
	KindCommand Kind = iota
	// KindService is a long-running process submitted via start/up.
	KindService
	// KindCron is spawned by a cron scheduler entry.
	KindCron
	// KindInterval is spawned by an interval scheduler entry.
	KindInterval
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindService:
		return "service"
	case KindCron:
		return "cron"
	case KindInterval:
		return "interval"
	default:
		return "unknown"
	}
}

// State is a job's position in the supervisor's state machine.
type State int

const (
	StatePending State = iota
	StateRunning
	StateExitedOK
	StateExitedFail
	StateBackoff
	StateStopped
	StateZombieReaped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExitedOK:
		return "exited-ok"
	case StateExitedFail:
		return "exited-fail"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	case StateZombieReaped:
		return "zombie-reaped"
	default:
		return "unknown"
	}
}

// Terminal reports whether a job in this state will never transition again
// without an explicit new submission (restart policy aside).
func (s State) Terminal() bool {
	switch s {
	case StateExitedOK, StateExitedFail, StateStopped, StateZombieReaped:
		return true
	default:
		return false
	}
}

// Active reports whether a job in this state counts toward single-instance
// enforcement (I1): running, backoff, or pending-to-run.
func (s State) Active() bool {
	switch s {
	case StatePending, StateRunning, StateBackoff:
		return true
	default:
		return false
	}
}

// SettleWindow is the minimum uninterrupted running duration (§4.7, I3)
// after which a service's restart_count resets to 0.
const SettleWindow = 30 * time.Second

// Backoff parameters (§4.7 "Restart policy by kind").
const (
	BackoffBase   = 1 * time.Second
	BackoffCap    = 60 * time.Second
	BackoffJitter = 0.20
)

// Record is one job's full state as tracked by the registry.
type Record struct {
	JobID           int64
	Kind            Kind
	Group           string
	CommandLine     []string
	SpawnedAt       time.Time
	LastExitAt      time.Time
	RestartCount    int
	NextRetryAt     time.Time
	State           State
	PID             int
	PGID            int
	ExitStatus      int
	ScheduleEntryID int64 // nonzero if spawned by a scheduler entry
}

// Snapshot is the read-only view returned by registry listings; the
// supervisor converts it into the Jobs wire response.
type Snapshot struct {
	JobID        int64     `json:"job_id"`
	Kind         string    `json:"kind"`
	Group        string    `json:"group,omitempty"`
	CommandLine  []string  `json:"command_line"`
	SpawnedAt    time.Time `json:"spawned_at,omitempty"`
	LastExitAt   time.Time `json:"last_exit_at,omitempty"`
	RestartCount int       `json:"restart_count"`
	NextRetryAt  time.Time `json:"next_retry_at,omitempty"`
	State        string    `json:"state"`
	PID          int       `json:"pid,omitempty"`
	ExitStatus   int       `json:"exit_status,omitempty"`
}

// Snapshot converts a Record to its serializable view.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		JobID:        r.JobID,
		Kind:         r.Kind.String(),
		Group:        r.Group,
		CommandLine:  r.CommandLine,
		SpawnedAt:    r.SpawnedAt,
		LastExitAt:   r.LastExitAt,
		RestartCount: r.RestartCount,
		NextRetryAt:  r.NextRetryAt,
		State:        r.State.String(),
		PID:          r.PID,
		ExitStatus:   r.ExitStatus,
	}
}

// RestartDecision is the result of applying the restart policy.
type RestartDecision struct {
	Restart bool
	// Backoff is true when the restart should be delayed (and the job
	// should transition to StateBackoff rather than directly to StatePending).
	Backoff bool
	Delay   time.Duration
}

// RestartPolicy decides whether a job of the given kind should restart
// after exiting with the given status, given its current restart_count and
// how long it had been running (uptime). It is a pure function: no global
// state, no side effects (§9 "Dynamic dispatch across job kinds").
//
// Backoff jitter is drawn from math/rand's package-level source.
func RestartPolicy(kind Kind, exitStatus int, restartCount int, uptime time.Duration) RestartDecision {
	switch kind {
	case KindCommand:
		return RestartDecision{Restart: false}

	case KindCron, KindInterval:
		// The scheduler re-fires by schedule; the supervisor never restarts
		// these directly.
		return RestartDecision{Restart: false}

	case KindService:
		if exitStatus == 0 {
			// Immediate restart, no backoff.
			return RestartDecision{Restart: true, Backoff: false}
		}
		n := restartCount
		if uptime >= SettleWindow {
			// Settle window reached: this failure starts a fresh sequence.
			n = 0
		}
		delay := backoffDelay(n)
		return RestartDecision{Restart: true, Backoff: true, Delay: delay}

	default:
		return RestartDecision{Restart: false}
	}
}

// backoffDelay computes min(base*2^n, cap) with ±20% jitter (§4.7, §8).
func backoffDelay(n int) time.Duration {
	base := float64(BackoffBase)
	capped := base * float64(uint64(1)<<uint(min(n, 62)))
	if capped > float64(BackoffCap) || capped <= 0 {
		capped = float64(BackoffCap)
	}
	jitterFrac := 1 + (rand.Float64()*2-1)*BackoffJitter
	d := time.Duration(capped * jitterFrac)
	if d < 0 {
		d = 0
	}
	return d
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
