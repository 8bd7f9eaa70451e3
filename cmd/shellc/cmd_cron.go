package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

func newCronCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "cron EXPR -- CMD [args...]",
		Short: "register a cron schedule (6-field, seconds optional)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeSchedule, Schedule: &wire.ScheduleRequest{
				Kind: "cron", Expr: args[0], CommandLine: args[1:], Group: group,
			}})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				exitForResult(resp)
				return nil
			}
			fmt.Printf("schedule entry %d\n", resp.Ack.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "tag the schedule's spawned jobs with a group")
	return cmd
}

func newEveryCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "every INTERVAL -- CMD [args...]",
		Short: "register an interval schedule (duration string, e.g. 5m)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeSchedule, Schedule: &wire.ScheduleRequest{
				Kind: "interval", Interval: args[0], CommandLine: args[1:], Group: group,
			}})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				exitForResult(resp)
				return nil
			}
			fmt.Printf("schedule entry %d\n", resp.Ack.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "tag the schedule's spawned jobs with a group")
	return cmd
}
