// shellc is the CLI client for the shelld daemon.
//
// Usage:
//
//	shellc run <cmd> [args...]         – run a one-shot command, streaming output
//	shellc start <name|cmd> [args...]  – start (or resolve-and-start) a service
//	shellc up --group <g>              – start every recipe tagged <g>
//	shellc down --group <g>            – stop every job tagged <g>
//	shellc stop <job-id>                – stop a job
//	shellc jobs [--watch]               – list jobs, or a live dashboard
//	shellc logs <job-id> [-f]           – print (or follow) a job's logs
//	shellc ps [job-id]                   – resource usage for one or all jobs
//	shellc cron <expr> <cmd> [args...]   – register a cron schedule
//	shellc every <interval> <cmd> [...]  – register an interval schedule
//
// shellc starts shelld automatically if it is not already running.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "shellc",
		Short:         "client for the shelld job supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newStartCmd(),
		newUpCmd(),
		newDownCmd(),
		newStopCmd(),
		newJobsCmd(),
		newLogsCmd(),
		newPsCmd(),
		newCronCmd(),
		newEveryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shellc:", err)
		os.Exit(1)
	}
}
