// Package supervisor implements the single-threaded event-loop state
// machine described in §4.7: it owns the job registry, consumes scheduler
// and client events, spawns jobs, handles child-exit events, applies the
// restart policy with exponential backoff, and enforces single-instance
// semantics for services.
//
// Every mutation of the registry happens inside Run's event loop goroutine
// (§3 "Ownership": "the supervisor exclusively owns the job registry; all
// mutations funnel through its event loop"). All other goroutines —
// output pumps, the reaper-equivalent exit-wait goroutines, the scheduler
// ticker — communicate with it only by sending events on s.events.
package supervisor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ianlt/shelld/internal/jobspec"
	"github.com/ianlt/shelld/internal/logbuf"
	"github.com/ianlt/shelld/internal/outputpump"
	"github.com/ianlt/shelld/internal/recipe"
	"github.com/ianlt/shelld/internal/registry"
	"github.com/ianlt/shelld/internal/sampler"
	"github.com/ianlt/shelld/internal/scheduler"
	"github.com/ianlt/shelld/internal/spawner"
	"github.com/ianlt/shelld/internal/wire"
)

// eventChannelCapacity sizes the client-request lane; the scheduler and
// reaper-equivalent lanes get their own generously buffered channels so a
// slow consumer never blocks the ticker or a child's exit-wait goroutine
// (§5 "a small dedicated priority lane").
const eventChannelCapacity = 256
const priorityLaneCapacity = 4096

type eventKind int

const (
	evClientRequest eventKind = iota
	evSchedulerFire
	evChildExit
	evStreamClosed
	evBackoffTimer
)

type event struct {
	kind eventKind

	req *clientRequest

	fire scheduler.Fire

	childExitPID    int
	childExitStatus int

	streamJobID int64
	streamName  string

	backoffJobID int64
}

// clientRequest pairs an incoming request with the channel the event loop
// replies on.
type clientRequest struct {
	req   Request
	reply chan Result
}

// Request is the supervisor-facing shape of a client command; the IPC
// layer translates wire.Envelope into this before calling Submit.
type Request struct {
	Kind string // one of wire.TypeRun, TypeStart, TypeUp, TypeStop, TypeDown, TypeJobs, TypePs, TypeSchedule

	Run      *wire.RunRequest
	Start    *wire.StartRequest
	Up       *wire.UpRequest
	Stop     *wire.StopRequest
	Down     *wire.DownRequest
	Jobs     *wire.LogsRequest // unused field holder; Jobs has no parameters
	Ps       *wire.PsRequest
	Schedule *wire.ScheduleRequest
}

// Result is the supervisor's reply to a Request.
type Result struct {
	Ack       *wire.AckResponse
	JobList   *wire.JobListResponse
	ProcStats *wire.ProcStatsResponse
	Err       *wire.ErrorResponse
}

// runtime is incidental per-job bookkeeping that only the event-loop
// goroutine ever touches; because of that single-writer discipline it
// needs no lock of its own (§3 Ownership, §9 "Async vs threads").
type runtime struct {
	proc                         *spawner.Process
	doneCh                       chan struct{}
	done                         bool
	outClosed, errClosed, exited bool
	exitStatus                   int
	backoffTimer                 *time.Timer
}

// Supervisor is the job supervisor described by §4.7.
type Supervisor struct {
	registry  *registry.Registry
	logs      *logbuf.Buffer
	scheduler *scheduler.Scheduler
	recipes   recipe.Enumerator
	sampler   sampler.Sampler
	log       zerolog.Logger

	events         chan event
	childExitCh    chan event
	streamClosedCh chan event
	backoffCh      chan event
	stop           chan struct{}
	done           chan struct{}

	runtimes map[int64]*runtime
}

// Config bundles the Supervisor's external collaborators.
type Config struct {
	Registry  *registry.Registry
	Logs      *logbuf.Buffer
	Scheduler *scheduler.Scheduler
	Recipes   recipe.Enumerator
	Sampler   sampler.Sampler
	Logger    zerolog.Logger
}

// New constructs a Supervisor. Call Run to start its event loop.
func New(cfg Config) *Supervisor {
	if cfg.Recipes == nil {
		cfg.Recipes = recipe.Empty{}
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sampler.GopsutilSampler{}
	}
	return &Supervisor{
		registry:       cfg.Registry,
		logs:           cfg.Logs,
		scheduler:      cfg.Scheduler,
		recipes:        cfg.Recipes,
		sampler:        cfg.Sampler,
		log:            cfg.Logger,
		events:         make(chan event, eventChannelCapacity),
		childExitCh:    make(chan event, priorityLaneCapacity),
		streamClosedCh: make(chan event, priorityLaneCapacity),
		backoffCh:      make(chan event, priorityLaneCapacity),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		runtimes:       make(map[int64]*runtime),
	}
}

// Submit posts req to the event loop and blocks for its Result. This is the
// entry point IPC session handlers call for every non-streaming request
// (§4.8 "submits a supervisor event carrying a response sink").
func (s *Supervisor) Submit(req Request) Result {
	reply := make(chan Result, 1)
	s.events <- event{kind: evClientRequest, req: &clientRequest{req: req, reply: reply}}
	return <-reply
}

// Logs returns the shared log buffer, used directly by the IPC layer for
// snapshot and follow reads (§3 "Ownership": the log buffer is shared, not
// supervisor-owned).
func (s *Supervisor) Logs() *logbuf.Buffer { return s.logs }

// Run starts the event loop; it blocks until Stop is called.
func (s *Supervisor) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			s.shutdown()
			return
		case e := <-s.events:
			s.handle(e)
		case fire := <-s.scheduler.Fires():
			s.handle(event{kind: evSchedulerFire, fire: fire})
		case e := <-s.childExitCh:
			s.handle(e)
		case e := <-s.streamClosedCh:
			s.handle(e)
		case e := <-s.backoffCh:
			s.handle(e)
		}
	}
}

// Stop requests the event loop to terminate every live job and exit
// (§5 "Daemon shutdown: emit Stop for every live job, drain reaper, close
// socket, exit").
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Supervisor) shutdown() {
	for jobID, rt := range s.runtimes {
		if rt.proc != nil && !rt.exited {
			go rt.proc.Terminate(rt.doneCh)
		}
		s.log.Info().Int64("job_id", jobID).Msg("shutdown: stopping job")
	}
}

func (s *Supervisor) handle(e event) {
	switch e.kind {
	case evClientRequest:
		e.req.reply <- s.handleRequest(e.req.req)
	case evSchedulerFire:
		s.handleSchedulerFire(e.fire)
	case evChildExit:
		s.onChildExit(e.childExitPID, e.childExitStatus)
	case evStreamClosed:
		s.onStreamClosed(e.streamJobID, e.streamName)
	case evBackoffTimer:
		s.onBackoffTimer(e.backoffJobID)
	}
}

// --- outputpump.Sink ---------------------------------------------------

// Append implements outputpump.Sink by writing directly to the shared log
// buffer; the buffer has its own internal lock and is not supervisor state
// (§3 Ownership), so this never touches the event loop.
func (s *Supervisor) Append(jobID int64, stream, line string) {
	s.logs.Append(jobID, stream, line)
}

// StreamClosed implements outputpump.Sink by posting to the priority lane;
// the actual state transition happens inside the event loop so ordering
// guarantee O1 holds.
func (s *Supervisor) StreamClosed(jobID int64, stream string) {
	s.sendPriority(s.streamClosedCh, event{kind: evStreamClosed, streamJobID: jobID, streamName: stream})
}

func (s *Supervisor) sendPriority(ch chan event, e event) {
	select {
	case ch <- e:
	default:
		s.log.Warn().Msg("priority lane full, dropping event")
	}
}

// --- request dispatch ----------------------------------------------------

func (s *Supervisor) handleRequest(req Request) Result {
	switch req.Kind {
	case wire.TypeRun:
		return s.handleRun(req.Run)
	case wire.TypeStart:
		return s.handleStart(req.Start)
	case wire.TypeUp:
		return s.handleUp(req.Up)
	case wire.TypeStop:
		return s.handleStop(req.Stop)
	case wire.TypeDown:
		return s.handleDown(req.Down)
	case wire.TypeJobs:
		return s.handleJobs()
	case wire.TypePs:
		return s.handlePs(req.Ps)
	case wire.TypeSchedule:
		return s.handleSchedule(req.Schedule)
	default:
		return errResult(wire.ErrProtocolError, "unknown request kind: "+req.Kind)
	}
}

func errResult(kind, msg string) Result {
	return Result{Err: &wire.ErrorResponse{Kind: kind, Message: msg}}
}

func ackResult(jobID int64) Result {
	return Result{Ack: &wire.AckResponse{JobID: jobID}}
}

func (s *Supervisor) handleRun(req *wire.RunRequest) Result {
	if req == nil || len(req.CommandLine) == 0 {
		return errResult(wire.ErrProtocolError, "run requires a non-empty command line")
	}
	rec := &jobspec.Record{Kind: jobspec.KindCommand, CommandLine: req.CommandLine, State: jobspec.StatePending}
	jobID, err := s.registry.Insert(rec)
	if err != nil {
		return errResult(wire.ErrAlreadyRunning, err.Error())
	}
	s.doSpawn(rec, req.Dir)
	return ackResult(jobID)
}

func (s *Supervisor) handleStart(req *wire.StartRequest) Result {
	if req == nil {
		return errResult(wire.ErrProtocolError, "start requires a name or command line")
	}
	cmdLine := req.CommandLine
	group := req.Group
	dir := req.Dir
	if r, ok := s.recipes.ByName(req.Name); ok {
		cmdLine = r.CommandLine
		if group == "" {
			group = r.Group
		}
	} else if len(cmdLine) == 0 {
		// No recipe matched; treat Name as the command itself (§6 `start`).
		cmdLine = []string{req.Name}
	}

	rec := &jobspec.Record{Kind: jobspec.KindService, CommandLine: cmdLine, Group: group, State: jobspec.StatePending}
	jobID, err := s.registry.Insert(rec)
	if err != nil {
		return Result{Err: &wire.ErrorResponse{Kind: wire.ErrAlreadyRunning, Message: err.Error()}, Ack: &wire.AckResponse{JobID: jobID}}
	}
	s.doSpawn(rec, dir)
	return ackResult(jobID)
}

func (s *Supervisor) handleUp(req *wire.UpRequest) Result {
	if req == nil || req.Group == "" {
		return errResult(wire.ErrProtocolError, "up requires a group")
	}
	recipes := s.recipes.ByGroup(req.Group)
	var lastJobID int64
	for _, r := range recipes {
		rec := &jobspec.Record{Kind: jobspec.KindService, CommandLine: r.CommandLine, Group: req.Group, State: jobspec.StatePending}
		jobID, err := s.registry.Insert(rec)
		if err != nil {
			continue // already running; up is idempotent per job
		}
		s.doSpawn(rec, "")
		lastJobID = jobID
	}
	return ackResult(lastJobID)
}

func (s *Supervisor) handleStop(req *wire.StopRequest) Result {
	if req == nil {
		return errResult(wire.ErrProtocolError, "stop requires a job id or command line")
	}
	var recs []*jobspec.Record
	if req.JobID != 0 {
		if rec := s.registry.ByID(req.JobID); rec != nil {
			recs = append(recs, rec)
		}
	} else if len(req.CommandLine) > 0 {
		recs = s.registry.ByCommand(req.CommandLine)
	}
	if len(recs) == 0 {
		return errResult(wire.ErrNotFound, "no matching job")
	}
	for _, rec := range recs {
		s.stopRecord(rec)
	}
	return ackResult(recs[0].JobID)
}

func (s *Supervisor) handleDown(req *wire.DownRequest) Result {
	if req == nil || req.Group == "" {
		return errResult(wire.ErrProtocolError, "down requires a group")
	}
	for _, rec := range s.registry.ActiveInGroup(req.Group) {
		s.stopRecord(rec)
	}
	return ackResult(0)
}

func (s *Supervisor) handleJobs() Result {
	snaps := s.registry.List(registry.Filter{})
	jobs := make([]wire.JobSummary, 0, len(snaps))
	for _, snap := range snaps {
		jobs = append(jobs, wire.JobSummary{
			JobID:                snap.JobID,
			Kind:                 snap.Kind,
			Group:                snap.Group,
			CommandLine:          snap.CommandLine,
			State:                snap.State,
			PID:                  snap.PID,
			RestartCount:         snap.RestartCount,
			ExitStatus:           snap.ExitStatus,
			SpawnedAtUnixMilli:   unixMilli(snap.SpawnedAt),
			LastExitAtUnixMilli:  unixMilli(snap.LastExitAt),
			NextRetryAtUnixMilli: unixMilli(snap.NextRetryAt),
		})
	}
	return Result{JobList: &wire.JobListResponse{Jobs: jobs}}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *Supervisor) handlePs(req *wire.PsRequest) Result {
	var targets []*jobspec.Record
	if req != nil && req.JobID != 0 {
		if rec := s.registry.ByID(req.JobID); rec != nil {
			targets = append(targets, rec)
		}
	} else {
		for _, snap := range s.registry.List(registry.Filter{}) {
			if snap.State == jobspec.StateRunning.String() {
				if rec := s.registry.ByID(snap.JobID); rec != nil {
					targets = append(targets, rec)
				}
			}
		}
	}

	var samples []wire.ProcSample
	for _, rec := range targets {
		if rec.State != jobspec.StateRunning || rec.PID == 0 {
			continue
		}
		sample, err := s.sampler.Sample(rec.PID)
		if err != nil {
			continue
		}
		samples = append(samples, wire.ProcSample{
			JobID:      rec.JobID,
			PID:        sample.PID,
			CPUPercent: sample.CPUPercent,
			RSSBytes:   sample.RSSBytes,
			UptimeSec:  sample.UptimeSec,
		})
	}
	return Result{ProcStats: &wire.ProcStatsResponse{Samples: samples}}
}

func (s *Supervisor) handleSchedule(req *wire.ScheduleRequest) Result {
	if req == nil || len(req.CommandLine) == 0 {
		return errResult(wire.ErrProtocolError, "schedule requires a command line")
	}
	switch req.Kind {
	case "cron":
		entry, err := s.scheduler.AddCron(req.CommandLine, req.Group, req.Expr)
		if err != nil {
			return errResult(wire.ErrScheduleParseErr, err.Error())
		}
		return ackResult(entry.EntryID)
	case "interval":
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			return errResult(wire.ErrScheduleParseErr, fmt.Sprintf("bad interval %q: %v", req.Interval, err))
		}
		entry, err := s.scheduler.AddInterval(req.CommandLine, req.Group, d)
		if err != nil {
			return errResult(wire.ErrScheduleParseErr, err.Error())
		}
		return ackResult(entry.EntryID)
	default:
		return errResult(wire.ErrScheduleParseErr, "schedule kind must be \"cron\" or \"interval\", got "+req.Kind)
	}
}

// --- spawn / exit / restart ------------------------------------------------

func (s *Supervisor) handleSchedulerFire(fire scheduler.Fire) {
	kind := jobspec.KindCron
	if fire.Kind == scheduler.KindInterval {
		kind = jobspec.KindInterval
	}
	rec := &jobspec.Record{
		Kind:            kind,
		CommandLine:     fire.CommandLine,
		Group:           fire.Group,
		State:           jobspec.StatePending,
		ScheduleEntryID: fire.EntryID,
	}
	if _, err := s.registry.Insert(rec); err != nil {
		s.log.Warn().Int64("entry_id", fire.EntryID).Err(err).Msg("scheduled fire could not be inserted")
		return
	}
	s.doSpawn(rec, "")
}

// doSpawn launches rec's command and wires its pipes into output pumps; it
// transitions rec to running on success or exited-fail (with restart
// policy applied) on spawn failure (§4.4 error, §4.7 "pending -> spawn
// fail -> exited-fail").
func (s *Supervisor) doSpawn(rec *jobspec.Record, dir string) {
	proc, err := spawner.Start(spawner.Options{CommandLine: rec.CommandLine, Dir: dir})
	if err != nil {
		s.log.Error().Int64("job_id", rec.JobID).Err(err).Msg("spawn failed")
		s.registry.Update(rec.JobID, func(r *jobspec.Record) {
			r.State = jobspec.StateExitedFail
			r.LastExitAt = time.Now()
			r.ExitStatus = -1
		})
		s.applyRestartPolicy(s.registry.ByID(rec.JobID))
		return
	}

	rt := &runtime{proc: proc, doneCh: make(chan struct{})}
	s.runtimes[rec.JobID] = rt

	s.registry.Update(rec.JobID, func(r *jobspec.Record) {
		r.State = jobspec.StateRunning
		r.PID = proc.PID
		r.PGID = proc.PGID
		r.SpawnedAt = time.Now()
	})
	s.log.Info().Int64("job_id", rec.JobID).Int("pid", proc.PID).Msg("job started")

	jobID := rec.JobID
	go outputpump.Pump(proc.Stdout, jobID, "out", s)
	go outputpump.Pump(proc.Stderr, jobID, "err", s)
	go s.waitForExit(jobID, proc, rt.doneCh)
}

// waitForExit is the reaper-equivalent goroutine (one per child, §9 "Async
// vs threads"): it blocks on the child's exit and posts the result to the
// supervisor's priority lane, which must never block (§5).
func (s *Supervisor) waitForExit(jobID int64, proc *spawner.Process, doneCh chan struct{}) {
	status, _ := proc.Wait()
	close(doneCh)
	s.sendPriority(s.childExitCh, event{kind: evChildExit, childExitPID: proc.PID, childExitStatus: status})
}

func (s *Supervisor) onChildExit(pid, status int) {
	rec := s.registry.ByPID(pid)
	if rec == nil {
		// A job stopped while running has already left the pid index.
		for jobID, rt := range s.runtimes {
			if rt.proc != nil && rt.proc.PID == pid {
				rec = s.registry.ByID(jobID)
				break
			}
		}
	}
	if rec == nil {
		s.log.Warn().Int("pid", pid).Msg("child exit for unknown pid")
		return
	}
	rt := s.runtimes[rec.JobID]
	if rt == nil {
		return
	}
	rt.exited = true
	rt.exitStatus = status
	s.maybeFinalize(rec.JobID)
}

func (s *Supervisor) onStreamClosed(jobID int64, stream string) {
	rt := s.runtimes[jobID]
	if rt == nil {
		return
	}
	if stream == "out" {
		rt.outClosed = true
	} else {
		rt.errClosed = true
	}
	s.maybeFinalize(jobID)
}

// maybeFinalize applies the terminal state transition only once the child
// has exited AND both output streams have closed, guaranteeing every log
// line precedes the state transition in any client's observation (O1).
func (s *Supervisor) maybeFinalize(jobID int64) {
	rt := s.runtimes[jobID]
	if rt == nil || !rt.exited || !rt.outClosed || !rt.errClosed {
		return
	}
	delete(s.runtimes, jobID)

	rec := s.registry.ByID(jobID)
	if rec == nil {
		return
	}

	deliberatelyStopped := rec.State == jobspec.StateStopped
	s.registry.Update(jobID, func(r *jobspec.Record) {
		r.PID = 0
		r.LastExitAt = time.Now()
		r.ExitStatus = rt.exitStatus
		if !deliberatelyStopped {
			if rt.exitStatus == 0 {
				r.State = jobspec.StateExitedOK
			} else {
				r.State = jobspec.StateExitedFail
			}
		}
	})
	s.log.Info().Int64("job_id", jobID).Int("exit_status", rt.exitStatus).Msg("job exited")

	if deliberatelyStopped {
		return
	}
	s.applyRestartPolicy(s.registry.ByID(jobID))
}

// applyRestartPolicy implements §4.7's restart table and §4.7/§8's backoff
// math by delegating to the pure jobspec.RestartPolicy function.
func (s *Supervisor) applyRestartPolicy(rec *jobspec.Record) {
	if rec == nil {
		return
	}
	var uptime time.Duration
	if !rec.SpawnedAt.IsZero() {
		uptime = rec.LastExitAt.Sub(rec.SpawnedAt)
	}
	decision := jobspec.RestartPolicy(rec.Kind, rec.ExitStatus, rec.RestartCount, uptime)
	if !decision.Restart {
		return
	}

	if !decision.Backoff {
		s.registry.Update(rec.JobID, func(r *jobspec.Record) {
			r.State = jobspec.StatePending
			if uptime >= jobspec.SettleWindow {
				r.RestartCount = 0
			}
		})
		s.doSpawn(s.registry.ByID(rec.JobID), "")
		return
	}

	newCount := rec.RestartCount + 1
	if uptime >= jobspec.SettleWindow {
		newCount = 1
	}
	nextRetry := time.Now().Add(decision.Delay)
	s.registry.Update(rec.JobID, func(r *jobspec.Record) {
		r.State = jobspec.StateBackoff
		r.RestartCount = newCount
		r.NextRetryAt = nextRetry
	})

	jobID := rec.JobID
	timer := time.AfterFunc(decision.Delay, func() {
		s.sendPriority(s.backoffCh, event{kind: evBackoffTimer, backoffJobID: jobID})
	})
	rt := &runtime{}
	rt.backoffTimer = timer
	s.runtimes[jobID] = rt
}

func (s *Supervisor) onBackoffTimer(jobID int64) {
	rec := s.registry.ByID(jobID)
	if rec == nil || rec.State != jobspec.StateBackoff {
		return // Stop cancelled the timer logically; nothing to do.
	}
	delete(s.runtimes, jobID)
	s.registry.Update(jobID, func(r *jobspec.Record) {
		r.State = jobspec.StatePending
	})
	s.doSpawn(s.registry.ByID(jobID), "")
}

// stopRecord implements the Stop transitions in §4.7's table for whichever
// state rec is currently in.
func (s *Supervisor) stopRecord(rec *jobspec.Record) {
	switch rec.State {
	case jobspec.StatePending:
		s.registry.Update(rec.JobID, func(r *jobspec.Record) { r.State = jobspec.StateStopped })

	case jobspec.StateRunning:
		s.registry.Update(rec.JobID, func(r *jobspec.Record) { r.State = jobspec.StateStopped })
		if rt := s.runtimes[rec.JobID]; rt != nil && rt.proc != nil {
			go rt.proc.Terminate(rt.doneCh)
		}

	case jobspec.StateBackoff:
		if rt := s.runtimes[rec.JobID]; rt != nil && rt.backoffTimer != nil {
			rt.backoffTimer.Stop()
		}
		delete(s.runtimes, rec.JobID)
		s.registry.Update(rec.JobID, func(r *jobspec.Record) { r.State = jobspec.StateStopped })

	default:
		// Already terminal; nothing to do.
	}
}
