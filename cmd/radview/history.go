package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
	"github.com/Mr-Dark-debug/radview/pkg/timeutil"
)

var loadStates = []string{
	database.StateLoading,
	database.StateLoaded,
	database.StateError,
	database.StateCancelled,
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// buildFilter turns --since/--state/--limit into a LoadFilter.
func buildFilter(since, state string, limit int, now time.Time) (database.LoadFilter, error) {
	filter := database.LoadFilter{Limit: limit}
	if since != "" {
		ns, err := timeutil.ParseSince(since, now)
		if err != nil {
			return filter, err
		}
		filter.Since = &ns
	}
	if state != "" {
		valid := false
		for _, s := range loadStates {
			if s == state {
				valid = true
				break
			}
		}
		if !valid {
			return filter, fmt.Errorf("unknown state %q (want one of %v)", state, loadStates)
		}
		filter.State = &state
	}
	return filter, nil
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		since  string
		state  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded loads, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter(since, state, limit, time.Now())
			if err != nil {
				return err
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			loads, err := store.QueryLoads(filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, jsonutil.PrettyJSON(loads))
				return nil
			}
			if len(loads) == 0 {
				fmt.Fprintln(out, "No loads recorded.")
				return nil
			}
			printLoads(out, loads, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only loads started after this (e.g. 24h, 7d, 2026-01-02)")
	cmd.Flags().StringVar(&state, "state", "", "filter by state: loading, loaded, error, cancelled")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printLoads(w io.Writer, loads []*database.LoadRecord, now time.Time) {
	t := newTable("LOAD", "STARTED", "STATE", "FILES", "SIZE", "DATASETS", "DURATION", "ERROR")
	for _, l := range loads {
		duration := "-"
		if l.Finished() && l.EndTime != nil {
			duration = timeutil.FormatDuration(l.DurationMs())
		}
		errText := ""
		if l.ErrorMessage != nil {
			errText = jsonutil.TruncateString(*l.ErrorMessage, 40)
		}
		t.Row(
			shortID(l.LoadID),
			timeutil.RelativeTime(l.StartTime, now),
			l.State,
			strconv.Itoa(l.FileCount),
			timeutil.FormatBytes(l.TotalBytes),
			strconv.Itoa(l.DatasetCount),
			duration,
			errText,
		)
	}
	fmt.Fprintln(w, t.String())
}

func (c *cli) showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show LOAD_ID",
		Short: "Show one load and its datasets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			load, err := resolveLoad(store, args[0])
			if err != nil {
				return err
			}
			datasets, err := store.GetDatasets(load.LoadID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, jsonutil.PrettyJSON(map[string]any{
					"load":     load,
					"datasets": datasets,
				}))
				return nil
			}
			fmt.Fprintf(out, "Load:        %s\n", load.LoadID)
			fmt.Fprintf(out, "Generation:  %d\n", load.Generation)
			fmt.Fprintf(out, "Container:   %s\n", load.ContainerID)
			fmt.Fprintf(out, "State:       %s\n", load.State)
			fmt.Fprintf(out, "Started:     %s\n", timeutil.FormatTimestampFull(load.StartTime))
			if load.EndTime != nil {
				fmt.Fprintf(out, "Duration:    %s\n", timeutil.FormatDuration(load.DurationMs()))
			}
			fmt.Fprintf(out, "Files:       %d (%s)\n", load.FileCount, timeutil.FormatBytes(load.TotalBytes))
			if load.ErrorCode != nil {
				fmt.Fprintf(out, "Error:       [%s] %s\n", *load.ErrorCode, deref(load.ErrorMessage))
			}
			for _, ds := range datasets {
				fmt.Fprintf(out, "\n#%d %s  %s  %s\n", ds.Position, ds.DataID, ds.Modality, ds.SeriesUID)
				for _, k := range jsonutil.SortedKeys(ds.Metadata) {
					fmt.Fprintf(out, "  %-28s %s\n", k, jsonutil.TruncateString(ds.Metadata[k], 60))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search dataset metadata across all loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.SearchMetadata(args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, jsonutil.PrettyJSON(results))
				return nil
			}
			if len(results) == 0 {
				fmt.Fprintf(out, "No datasets match %q.\n", args[0])
				return nil
			}
			t := newTable("LOAD", "DATASET", "MODALITY", "SERIES")
			for _, ds := range results {
				t.Row(shortID(ds.LoadID), ds.DataID, ds.Modality, jsonutil.TruncateString(ds.SeriesUID, 40))
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *cli) pruneCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete loads started before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := timeutil.ParseSince(before, time.Now())
			if err != nil {
				return err
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneBefore(cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d loads started before %s.\n", n, timeutil.FormatTimestampFull(cutoff))
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "30d", "cutoff (e.g. 30d, 720h, 2026-01-02)")
	return cmd
}

// resolveLoad accepts a full load id or the unique prefix printed by
// history.
func resolveLoad(store database.Store, id string) (*database.LoadRecord, error) {
	load, err := store.GetLoad(id)
	if err == nil || !errors.Is(err, database.ErrNotFound) {
		return load, err
	}
	loads, err := store.QueryLoads(database.LoadFilter{Limit: 10000})
	if err != nil {
		return nil, err
	}
	var match *database.LoadRecord
	for _, l := range loads {
		if !strings.HasPrefix(l.LoadID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("load id prefix %q is ambiguous", id)
		}
		match = l
	}
	if match == nil {
		return nil, fmt.Errorf("load %s not found", id)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
