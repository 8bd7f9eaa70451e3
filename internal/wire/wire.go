// Package wire implements the daemon/client IPC framing and message types.
//
// Every message, in either direction, is a 4-byte big-endian length prefix
// followed by a JSON-encoded envelope carrying a tagged message body. A
// session is one request followed by one or more responses; in follow mode,
// responses continue until the client disconnects or sends a Cancel frame.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is exchanged as the first frame in both directions
// (§6 "version handshake"); a mismatch closes the session with
// Error{VersionMismatch}.
const ProtocolVersion = 1

// maxFrameBytes bounds a single frame's payload to guard against a
// corrupt or hostile length header.
const maxFrameBytes = 16 << 20 // 16 MiB

// Request type tags.
const (
	TypeRun       = "run"
	TypeStart     = "start"
	TypeUp        = "up"
	TypeStop      = "stop"
	TypeDown      = "down"
	TypeJobs      = "jobs"
	TypeLogs      = "logs"
	TypePs        = "ps"
	TypeSchedule  = "schedule"
	TypeCancel    = "cancel"
	TypeHandshake = "handshake"
)

// Response type tags.
const (
	TypeAck          = "ack"
	TypeJobList      = "job_list"
	TypeLogBatch     = "log_batch"
	TypeLogFollowEnd = "log_follow_end"
	TypeLogLagged    = "log_lagged"
	TypeProcStats    = "proc_stats"
	TypeError        = "error"
)

// Error kinds (§7).
const (
	ErrProtocolError    = "ProtocolError"
	ErrVersionMismatch  = "VersionMismatch"
	ErrSpawnError       = "SpawnError"
	ErrAlreadyRunning   = "AlreadyRunning"
	ErrNotFound         = "NotFound"
	ErrPermissionDenied = "PermissionDenied"
	ErrSocketBusy       = "SocketBusy"
	ErrScheduleParseErr = "ScheduleParseError"
	ErrLogLagged        = "LogLagged"
	ErrShutdown         = "Shutdown"
)

// Envelope is the outer JSON object carried by every frame. Type selects
// which of the pointer fields below is populated; exactly one should be
// non-nil for a given message, except that an AlreadyRunning error also
// carries Ack with the id of the job that is already running.
type Envelope struct {
	Type string `json:"type"`

	Handshake *Handshake `json:"handshake,omitempty"`

	Run      *RunRequest      `json:"run,omitempty"`
	Start    *StartRequest    `json:"start,omitempty"`
	Up       *UpRequest       `json:"up,omitempty"`
	Stop     *StopRequest     `json:"stop,omitempty"`
	Down     *DownRequest     `json:"down,omitempty"`
	Logs     *LogsRequest     `json:"logs,omitempty"`
	Ps       *PsRequest       `json:"ps,omitempty"`
	Schedule *ScheduleRequest `json:"schedule,omitempty"`
	Cancel   *CancelRequest   `json:"cancel,omitempty"`

	Ack          *AckResponse       `json:"ack,omitempty"`
	JobList      *JobListResponse   `json:"job_list,omitempty"`
	LogBatch     *LogBatchResponse  `json:"log_batch,omitempty"`
	LogFollowEnd *struct{}          `json:"log_follow_end,omitempty"`
	LogLagged    *LogLaggedResponse `json:"log_lagged,omitempty"`
	ProcStats    *ProcStatsResponse `json:"proc_stats,omitempty"`
	Error        *ErrorResponse     `json:"error,omitempty"`
}

// Handshake is the first frame exchanged in both directions.
type Handshake struct {
	Version int `json:"version"`
}

// RunRequest submits a one-shot command whose logs are streamed until exit.
type RunRequest struct {
	CommandLine []string `json:"command_line"`
	Dir         string   `json:"dir,omitempty"`
}

// StartRequest submits a long-running service, resolving Name through the
// recipe enumerator first (§6 "start").
type StartRequest struct {
	Name        string   `json:"name"`
	CommandLine []string `json:"command_line,omitempty"`
	Group       string   `json:"group,omitempty"`
	Dir         string   `json:"dir,omitempty"`
}

// UpRequest starts every recipe tagged Group.
type UpRequest struct {
	Group string `json:"group"`
}

// StopRequest stops a job by id or by command identity.
type StopRequest struct {
	JobID       int64    `json:"job_id,omitempty"`
	CommandLine []string `json:"command_line,omitempty"`
}

// DownRequest stops every job in Group.
type DownRequest struct {
	Group string `json:"group"`
}

// LogsRequest requests a log snapshot, optionally followed by a live stream.
type LogsRequest struct {
	Follow bool   `json:"follow,omitempty"`
	JobID  int64  `json:"job_id,omitempty"`
	Stream string `json:"stream,omitempty"` // "out", "err", or "" for both
}

// PsRequest requests a resource-usage sample, optionally scoped to one job.
type PsRequest struct {
	JobID int64 `json:"job_id,omitempty"`
}

// ScheduleRequest registers a cron or interval schedule entry.
type ScheduleRequest struct {
	Kind        string   `json:"kind"`               // "cron" or "interval"
	Expr        string   `json:"expr,omitempty"`     // cron expression
	Interval    string   `json:"interval,omitempty"` // duration string, e.g. "5m"
	CommandLine []string `json:"command_line"`
	Group       string   `json:"group,omitempty"`
}

// CancelRequest cancels the session's active follow stream.
type CancelRequest struct{}

// AckResponse acknowledges a request that created or addressed one job.
type AckResponse struct {
	JobID int64 `json:"job_id"`
}

// JobListResponse is a registry snapshot (§6 "jobs").
type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobSummary mirrors jobspec.Snapshot without importing it here, keeping
// the wire schema decoupled from internal registry representation.
type JobSummary struct {
	JobID                int64    `json:"job_id"`
	Kind                 string   `json:"kind"`
	Group                string   `json:"group,omitempty"`
	CommandLine          []string `json:"command_line"`
	State                string   `json:"state"`
	PID                  int      `json:"pid,omitempty"`
	RestartCount         int      `json:"restart_count"`
	ExitStatus           int      `json:"exit_status,omitempty"`
	SpawnedAtUnixMilli   int64    `json:"spawned_at_unix_milli,omitempty"`
	LastExitAtUnixMilli  int64    `json:"last_exit_at_unix_milli,omitempty"`
	NextRetryAtUnixMilli int64    `json:"next_retry_at_unix_milli,omitempty"`
}

// LogBatchResponse carries a batch of log entries, either the initial
// snapshot or a follow-mode increment.
type LogBatchResponse struct {
	Entries []LogEntry `json:"entries"`
}

// LogEntry is one captured output line (§3 "Log entry").
type LogEntry struct {
	JobID          int64  `json:"job_id"`
	Seq            uint64 `json:"seq"`
	TimestampMilli int64  `json:"timestamp_milli"`
	Stream         string `json:"stream"` // "out" or "err"
	Line           string `json:"line"`
}

// LogLaggedResponse signals that a follow subscriber fell behind by more
// than K entries and was dropped (§4.2).
type LogLaggedResponse struct {
	JobID int64 `json:"job_id"`
}

// ProcStatsResponse carries one resource-usage sample per job (§6 "ps").
type ProcStatsResponse struct {
	Samples []ProcSample `json:"samples"`
}

// ProcSample is a point-in-time resource reading for one job (delegated to
// the external sampler).
type ProcSample struct {
	JobID      int64   `json:"job_id"`
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	UptimeSec  float64 `json:"uptime_sec"`
}

// ErrorResponse is the structured error carried for every failure kind in
// §7; Kind maps to a client exit code by the caller.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteEnvelope frames and writes env to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("wire: envelope too large: %d bytes", len(body))
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadEnvelope reads one framed envelope from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var env Envelope
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return env, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > maxFrameBytes {
		return env, fmt.Errorf("%s: frame too large: %d bytes", ErrProtocolError, n)
	}
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return env, err
		}
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%s: %w", ErrProtocolError, err)
	}
	return env, nil
}

// NewError builds an error envelope for kind/message.
func NewError(kind, message string) Envelope {
	return Envelope{Type: TypeError, Error: &ErrorResponse{Kind: kind, Message: message}}
}

// ExitCodeForError maps an error kind to the client-visible exit code (§6,
// §7: "0 on success; 1 on client-side error; 2 on daemon-reported error").
func ExitCodeForError(kind string) int {
	switch kind {
	case "":
		return 0
	case ErrProtocolError, ErrVersionMismatch:
		return 1
	default:
		return 2
	}
}
