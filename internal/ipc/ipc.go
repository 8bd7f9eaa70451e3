// Package ipc implements the local-socket server described in §4.8: it
// binds a per-user socket with restricted permissions, accepts concurrent
// client sessions, dispatches requests to the supervisor, and streams
// responses — including follow-mode log streams.
package ipc

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ianlt/shelld/internal/logbuf"
	"github.com/ianlt/shelld/internal/supervisor"
	"github.com/ianlt/shelld/internal/wire"
)

// pingTimeout bounds how long Ping's liveness probe waits for a
// daemon to answer before concluding the socket is stale (§6 "If the
// socket exists but no daemon answers a ping frame within 500 ms").
const pingTimeout = 500 * time.Millisecond

// Server binds the socket/pipe and serves sessions against a supervisor.
type Server struct {
	sup      *supervisor.Supervisor
	log      zerolog.Logger
	listener net.Listener
}

// New constructs a Server bound to l, serving requests against sup.
func New(l net.Listener, sup *supervisor.Supervisor, logger zerolog.Logger) *Server {
	return &Server{sup: sup, log: logger, listener: l}
}

// Serve accepts connections until the listener is closed (§4.8 "On accept,
// spawns a session handler").
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleSession(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	hs, err := wire.ReadEnvelope(conn)
	if err != nil {
		return
	}
	if hs.Type != wire.TypeHandshake || hs.Handshake == nil || hs.Handshake.Version != wire.ProtocolVersion {
		wire.WriteEnvelope(conn, wire.NewError(wire.ErrVersionMismatch, "version mismatch or missing handshake"))
		return
	}
	if err := wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeHandshake, Handshake: &wire.Handshake{Version: wire.ProtocolVersion}}); err != nil {
		return
	}

	env, err := wire.ReadEnvelope(conn)
	if err != nil {
		return
	}

	switch env.Type {
	case wire.TypeLogs:
		s.handleLogs(conn, env)
	default:
		s.handleUnary(conn, env)
	}
}

// handleUnary covers every request that maps to exactly one
// supervisor.Submit call and one response frame (§6 run/start/up/stop/
// down/jobs/ps/cron — all but logs).
func (s *Server) handleUnary(conn net.Conn, env wire.Envelope) {
	req, ok := toSupervisorRequest(env)
	if !ok {
		wire.WriteEnvelope(conn, wire.NewError(wire.ErrProtocolError, "unsupported request type: "+env.Type))
		return
	}
	res := s.sup.Submit(req)
	wire.WriteEnvelope(conn, toEnvelope(res))
}

func toSupervisorRequest(env wire.Envelope) (supervisor.Request, bool) {
	switch env.Type {
	case wire.TypeRun:
		return supervisor.Request{Kind: wire.TypeRun, Run: env.Run}, true
	case wire.TypeStart:
		return supervisor.Request{Kind: wire.TypeStart, Start: env.Start}, true
	case wire.TypeUp:
		return supervisor.Request{Kind: wire.TypeUp, Up: env.Up}, true
	case wire.TypeStop:
		return supervisor.Request{Kind: wire.TypeStop, Stop: env.Stop}, true
	case wire.TypeDown:
		return supervisor.Request{Kind: wire.TypeDown, Down: env.Down}, true
	case wire.TypeJobs:
		return supervisor.Request{Kind: wire.TypeJobs}, true
	case wire.TypePs:
		return supervisor.Request{Kind: wire.TypePs, Ps: env.Ps}, true
	case wire.TypeSchedule:
		return supervisor.Request{Kind: wire.TypeSchedule, Schedule: env.Schedule}, true
	default:
		return supervisor.Request{}, false
	}
}

func toEnvelope(res supervisor.Result) wire.Envelope {
	switch {
	case res.Err != nil:
		// An AlreadyRunning result also carries the existing job's id.
		return wire.Envelope{Type: wire.TypeError, Error: res.Err, Ack: res.Ack}
	case res.Ack != nil:
		return wire.Envelope{Type: wire.TypeAck, Ack: res.Ack}
	case res.JobList != nil:
		return wire.Envelope{Type: wire.TypeJobList, JobList: res.JobList}
	case res.ProcStats != nil:
		return wire.Envelope{Type: wire.TypeProcStats, ProcStats: res.ProcStats}
	default:
		return wire.NewError(wire.ErrProtocolError, "empty supervisor result")
	}
}

// handleLogs implements §6 `logs [--follow] [--job ID] [--stream out|err]`:
// a snapshot frame, then — if Follow is set — a live stream of further
// batches until the client disconnects or sends a Cancel frame (§4.1,
// §4.8 "If the client disconnects during a follow stream, the session
// handler cancels its log subscription").
func (s *Server) handleLogs(conn net.Conn, env wire.Envelope) {
	req := env.Logs
	if req == nil {
		req = &wire.LogsRequest{}
	}

	entries := s.sup.Logs().Snapshot(req.JobID, req.Stream, 0)
	if err := wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogBatch, LogBatch: &wire.LogBatchResponse{Entries: toWireEntries(entries)}}); err != nil {
		return
	}
	if !req.Follow {
		wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogFollowEnd})
		return
	}

	sub := s.sup.Logs().Subscribe(req.JobID, req.Stream)
	defer sub.Cancel()

	cancelCh := make(chan struct{})
	go watchForCancel(conn, cancelCh)

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogFollowEnd})
				return
			}
			if err := wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogBatch, LogBatch: &wire.LogBatchResponse{Entries: toWireEntries([]logbuf.Entry{e})}}); err != nil {
				return
			}
		case jobID := <-sub.Lagged:
			wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogLagged, LogLagged: &wire.LogLaggedResponse{JobID: jobID}})
			return
		case <-cancelCh:
			wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeLogFollowEnd})
			return
		}
	}
}

// watchForCancel blocks reading further frames from conn; a Cancel frame or
// any read error (including client disconnect) closes cancelCh.
func watchForCancel(conn net.Conn, cancelCh chan struct{}) {
	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Any other read error also means the session is over.
			}
			close(cancelCh)
			return
		}
		if env.Type == wire.TypeCancel {
			close(cancelCh)
			return
		}
	}
}

func toWireEntries(entries []logbuf.Entry) []wire.LogEntry {
	out := make([]wire.LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.LogEntry{
			JobID:          e.JobID,
			Seq:            e.Seq,
			TimestampMilli: e.Timestamp.UnixMilli(),
			Stream:         e.Stream,
			Line:           e.Line,
		})
	}
	return out
}
