package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var stream string
	var noTimestamps bool
	cmd := &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "print a job's buffered logs, optionally following as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := wire.WriteEnvelope(client.conn, wire.Envelope{Type: wire.TypeLogs, Logs: &wire.LogsRequest{
				JobID: jobID, Follow: follow, Stream: stream,
			}}); err != nil {
				return err
			}

			for {
				env, err := wire.ReadEnvelope(client.conn)
				if err != nil {
					return err
				}
				switch env.Type {
				case wire.TypeLogBatch:
					printLogEntries(env.LogBatch.Entries, noTimestamps)
				case wire.TypeLogFollowEnd:
					return nil
				case wire.TypeLogLagged:
					fmt.Fprintln(os.Stderr, "shellc: log subscription fell behind and was dropped; re-run logs to resync")
					return nil
				case wire.TypeError:
					exitForResult(env)
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new log lines as they arrive")
	cmd.Flags().StringVar(&stream, "stream", "", "restrict to \"out\" or \"err\" (default: both)")
	cmd.Flags().BoolVarP(&noTimestamps, "no-timestamps", "T", false, "omit the leading timestamp on each line")
	return cmd
}

func printLogEntries(entries []wire.LogEntry, noTimestamps bool) {
	for _, e := range entries {
		w := os.Stdout
		if e.Stream == "err" {
			w = os.Stderr
		}
		if noTimestamps {
			fmt.Fprintln(w, e.Line)
			continue
		}
		ts := time.UnixMilli(e.TimestampMilli).Format(time.RFC3339)
		fmt.Fprintf(w, "%s %s\n", ts, e.Line)
	}
}
