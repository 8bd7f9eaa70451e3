package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ianlt/shelld/internal/wire"
)

func newJobsCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "list known jobs, or run a live dashboard with --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return runJobsWatch()
			}
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeJobs})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				exitForResult(resp)
				return nil
			}
			printJobsTable(os.Stdout, resp.JobList.Jobs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "live-refreshing dashboard (Ctrl-C to exit)")
	return cmd
}

// printJobsTable renders one row per job using a fixed-width table, the
// same tabwriter-based layout camh--jobber's CLI uses for `jobber list`.
func printJobsTable(w *os.File, jobs []wire.JobSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tKIND\tGROUP\tSTATE\tPID\tRESTARTS\tCOMMAND")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			j.JobID, j.Kind, j.Group, j.State, j.PID, j.RestartCount, formatCommand(j.CommandLine))
	}
	tw.Flush()
}

func formatCommand(cmdLine []string) string {
	out := ""
	for i, p := range cmdLine {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// runJobsWatch redraws the job table once a second in the terminal's
// alternate screen buffer.
func runJobsWatch() error {
	fd := int(os.Stdout.Fd())

	fmt.Print("\033[?1049h\033[?25l")
	defer fmt.Print("\033[?25h\033[?1049l")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	draw := func() {
		width, _, err := term.GetSize(fd)
		if err != nil || width < 20 {
			width = 100
		}
		fmt.Print("\033[H\033[J")

		client, err := dial()
		if err != nil {
			fmt.Printf("shelld not reachable: %v\n", err)
			return
		}
		defer client.Close()

		resp, err := client.submit(wire.Envelope{Type: wire.TypeJobs})
		if err != nil || resp.Type == wire.TypeError {
			fmt.Println("shelld not reachable")
			return
		}
		printJobsTable(os.Stdout, resp.JobList.Jobs)
		fmt.Printf("\n%d job(s)  %s\n", len(resp.JobList.Jobs), time.Now().Format("15:04:05"))
	}

	draw()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
			draw()
		}
	}
}
