package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/analysis"
	"github.com/Mr-Dark-debug/radview/internal/remote"
	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
)

func (c *cli) statsCmd() *cobra.Command {
	var (
		since  string
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Analyze load history",
		Long: `Stats summarizes recorded loads: duration statistics, unusually slow
loads, a per-file cost estimate and a breakdown of failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter(since, "", limit, time.Now())
			if err != nil {
				return err
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := analysis.NewAnalyzer(store).FullAnalysis(filter)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				fmt.Fprintln(out, jsonutil.PrettyJSON(report))
			case "markdown":
				fmt.Fprint(out, analysis.FormatReport(report))
			default:
				return fmt.Errorf("unknown format: %s", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only loads started after this (e.g. 24h, 7d)")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum loads analyzed")
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, json")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show radview-engine status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Daemon.MetricsAddr
			}
			url := fmt.Sprintf("http://%s/api/metrics", addr)
			out := cmd.OutOrStdout()

			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Fprintln(out, "radview-engine is not running.")
				fmt.Fprintln(out, "  Start it with: radview-engine")
				fmt.Fprintf(out, "  (tried: %s)\n", url)
				return fmt.Errorf("engine unreachable: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("metrics endpoint returned %s", resp.Status)
			}

			var m remote.Metrics
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				return fmt.Errorf("decoding metrics: %w", err)
			}

			fmt.Fprintln(out, "radview-engine is running.")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Connections:      %d\n", m.Connections)
			fmt.Fprintf(out, "  Active clients:   %d\n", m.ActiveClients)
			fmt.Fprintf(out, "  Requests:         %d\n", m.Requests)
			fmt.Fprintf(out, "  Events relayed:   %d\n", m.EventsRelayed)
			fmt.Fprintf(out, "  Errors:           %d\n", m.ErrorCount)
			fmt.Fprintf(out, "  Uptime:           %s\n", (time.Duration(m.UptimeSeconds) * time.Second).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "engine metrics address (default daemon.metrics_addr)")
	return cmd
}
