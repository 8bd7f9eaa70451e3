package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

// terminalStates mirrors jobspec.State.Terminal() by name; the wire schema
// is deliberately decoupled from the internal state enum (see wire.go), so
// the client compares against the same string values jobspec.State.String()
// produces for a terminal record.
var terminalStates = map[string]bool{
	"exited-ok":     true,
	"exited-fail":   true,
	"stopped":       true,
	"zombie-reaped": true,
}

func newRunCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "run -- CMD [args...]",
		Short: "run a one-shot command, streaming its output until exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeRun, Run: &wire.RunRequest{
				CommandLine: args,
				Dir:         dir,
			}})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				exitForResult(resp)
				return nil
			}
			jobID := resp.Ack.JobID

			status, err := streamLogsUntilExit(jobID)
			if err != nil {
				return err
			}
			os.Exit(status)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the command")
	return cmd
}

// streamLogsUntilExit follows a job's combined log stream, printing each
// line as it arrives. Since the log buffer keeps a follow subscription open
// indefinitely, a background poller watches for the job reaching a
// terminal state and then sends a Cancel frame to end the stream (§6 "exit
// code mirrors child").
func streamLogsUntilExit(jobID int64) (int, error) {
	client, err := dial()
	if err != nil {
		return 1, err
	}
	defer client.Close()

	if err := wire.WriteEnvelope(client.conn, wire.Envelope{Type: wire.TypeLogs, Logs: &wire.LogsRequest{JobID: jobID, Follow: true}}); err != nil {
		return 1, err
	}

	stopPoll := make(chan struct{})
	defer close(stopPoll)
	go pollUntilTerminalThenCancel(jobID, client, stopPoll)

	for {
		env, err := wire.ReadEnvelope(client.conn)
		if err != nil {
			return 1, err
		}
		switch env.Type {
		case wire.TypeLogBatch:
			for _, e := range env.LogBatch.Entries {
				w := os.Stdout
				if e.Stream == "err" {
					w = os.Stderr
				}
				fmt.Fprintln(w, e.Line)
			}
		case wire.TypeLogFollowEnd, wire.TypeLogLagged:
			return fetchExitStatus(jobID)
		case wire.TypeError:
			exitForResult(env)
			return 1, nil
		}
	}
}

func pollUntilTerminalThenCancel(jobID int64, follow *daemonClient, stop <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			poller, err := dial()
			if err != nil {
				continue
			}
			resp, err := poller.submit(wire.Envelope{Type: wire.TypeJobs})
			poller.Close()
			if err != nil || resp.JobList == nil {
				continue
			}
			for _, j := range resp.JobList.Jobs {
				if j.JobID == jobID && terminalStates[j.State] {
					wire.WriteEnvelope(follow.conn, wire.Envelope{Type: wire.TypeCancel, Cancel: &wire.CancelRequest{}})
					return
				}
			}
		}
	}
}

func fetchExitStatus(jobID int64) (int, error) {
	client, err := dial()
	if err != nil {
		return 1, err
	}
	defer client.Close()

	resp, err := client.submit(wire.Envelope{Type: wire.TypeJobs})
	if err != nil {
		return 1, err
	}
	if resp.Type == wire.TypeError {
		exitForResult(resp)
		return 1, nil
	}
	for _, j := range resp.JobList.Jobs {
		if j.JobID == jobID {
			return j.ExitStatus, nil
		}
	}
	return 1, nil
}
