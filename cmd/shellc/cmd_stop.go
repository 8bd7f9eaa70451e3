package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop JOB_ID|CMD [args...]",
		Short: "stop a job by id or by command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			req := &wire.StopRequest{}
			if jobID, err := strconv.ParseInt(args[0], 10, 64); err == nil && len(args) == 1 {
				req.JobID = jobID
			} else {
				req.CommandLine = args
			}

			resp, err := client.submit(wire.Envelope{Type: wire.TypeStop, Stop: req})
			if err != nil {
				return err
			}
			exitForResult(resp)
			return nil
		},
	}
	return cmd
}
