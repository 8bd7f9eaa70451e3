package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ianlt/shelld/internal/wire"
)

func newStartCmd() *cobra.Command {
	var group, dir string
	cmd := &cobra.Command{
		Use:   "start NAME|CMD [args...]",
		Short: "start a long-running service, resolving NAME via recipes if it matches one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			req := &wire.StartRequest{Name: args[0], Group: group, Dir: dir}
			if len(args) > 1 {
				req.CommandLine = args
			}

			resp, err := client.submit(wire.Envelope{Type: wire.TypeStart, Start: req})
			if err != nil {
				return err
			}
			if resp.Type == wire.TypeError {
				if resp.Error.Kind == wire.ErrAlreadyRunning && resp.Ack != nil {
					fmt.Printf("already running: job %d\n", resp.Ack.JobID)
					return nil
				}
				exitForResult(resp)
				return nil
			}
			fmt.Printf("job %d\n", resp.Ack.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "tag the started service with a group")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the service")
	return cmd
}

func newUpCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "start every recipe tagged --group",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeUp, Up: &wire.UpRequest{Group: group}})
			if err != nil {
				return err
			}
			exitForResult(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group to start (required)")
	cmd.MarkFlagRequired("group")
	return cmd
}

func newDownCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "down",
		Short: "stop every job tagged --group",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.submit(wire.Envelope{Type: wire.TypeDown, Down: &wire.DownRequest{Group: group}})
			if err != nil {
				return err
			}
			exitForResult(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group to stop (required)")
	cmd.MarkFlagRequired("group")
	return cmd
}
