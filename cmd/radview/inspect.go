package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/app"
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/internal/watch"
	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
)

func (c *cli) inspectCmd() *cobra.Command {
	var (
		timeout   time.Duration
		asJSON    bool
		noHistory bool
		tool      string
		toggle    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect PATH...",
		Short: "Load DICOM files headlessly and print the resulting session",
		Long: `Inspect runs one load through the viewer session controller without a
terminal UI. Directories are walked recursively. The command fails when
the load ends in the error state.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := watch.Collect(args)
			if err != nil {
				return err
			}

			cfg := *c.cfg
			if noHistory {
				cfg.History.Enabled = false
			}
			log, err := c.logger()
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			v, err := app.Open(ctx, &cfg, log)
			if err != nil {
				return err
			}
			defer v.Close()

			if err := v.Controller.LoadFiles(files); err != nil {
				return err
			}
			s, err := v.Settle(ctx)
			if err != nil {
				return fmt.Errorf("waiting for load: %w", err)
			}

			if s.State == session.Loaded {
				if tool != "" {
					if err := v.Controller.SetTool(tool); err != nil {
						return err
					}
				}
				if toggle {
					if _, err := v.Controller.ToggleOrientation(); err != nil {
						return err
					}
				}
			}

			snap := v.Controller.Snapshot()
			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, jsonutil.PrettyJSON(snap))
			} else {
				printSession(out, snap, len(files))
			}
			if err := s.Err(); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up when the load takes longer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session as JSON")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this load")
	cmd.Flags().StringVar(&tool, "tool", "", "select a tool after loading, e.g. Draw:Ellipse")
	cmd.Flags().BoolVar(&toggle, "toggle", false, "toggle the orientation after loading")
	return cmd
}

func printSession(w io.Writer, ch session.Change, files int) {
	s := ch.Session
	fmt.Fprintf(w, "State:        %s\n", s.State)
	fmt.Fprintf(w, "Generation:   %d\n", s.Generation)
	fmt.Fprintf(w, "Files:        %d\n", files)
	fmt.Fprintf(w, "Datasets:     %d\n", len(s.DataIDs))
	fmt.Fprintf(w, "Tool:         %s\n", ch.Tool)
	fmt.Fprintf(w, "Orientation:  %s\n", ch.Orientation)
	if s.ErrorInfo != nil {
		fmt.Fprintf(w, "Error:        [%s] %s\n", s.ErrorInfo.Code, s.ErrorInfo.Message)
	}
	for _, id := range s.DataIDs {
		fmt.Fprintf(w, "\n%s\n", id)
		meta := s.Metadata[id]
		for _, k := range jsonutil.SortedKeys(meta) {
			fmt.Fprintf(w, "  %-28s %s\n", k, jsonutil.TruncateString(meta[k], 60))
		}
	}
}
