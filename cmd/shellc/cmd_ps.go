package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

func newPsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps [JOB_ID]",
		Short: "report CPU/RSS/uptime for one job, or every running job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &wire.PsRequest{}
			if len(args) == 1 {
				jobID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				req.JobID = jobID
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypePs, Ps: req})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				exitForResult(resp)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tPID\tCPU%\tRSS\tUPTIME")
			for _, s := range resp.ProcStats.Samples {
				fmt.Fprintf(tw, "%d\t%d\t%.1f\t%s\t%.0fs\n", s.JobID, s.PID, s.CPUPercent, formatBytes(s.RSSBytes), s.UptimeSec)
			}
			return tw.Flush()
		},
	}
	return cmd
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
