// Package analysis derives deterministic statistics from the load history:
// how long loads take, which ones were unusually slow, what each extra
// file costs and why loads fail.
//
// Key capabilities:
//   - Slow load detection via Z-score analysis
//   - Per-file load cost via linear regression
//   - Failure breakdown by error code
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/pkg/timeutil"
)

// Analyzer computes statistics over recorded loads.
type Analyzer struct {
	store database.Store
	now   func() time.Time
}

// NewAnalyzer creates an analyzer backed by the given store.
func NewAnalyzer(store database.Store) *Analyzer {
	return &Analyzer{store: store, now: time.Now}
}

// finishedLoads returns completed, successful loads matching filter.
func (a *Analyzer) finishedLoads(filter database.LoadFilter) ([]*database.LoadRecord, error) {
	state := database.StateLoaded
	filter.State = &state
	loads, err := a.store.QueryLoads(filter)
	if err != nil {
		return nil, fmt.Errorf("querying loads: %w", err)
	}
	out := loads[:0]
	for _, l := range loads {
		if l.Finished() {
			out = append(out, l)
		}
	}
	return out, nil
}

// ============================================================
// Duration Statistics
// ============================================================

// DurationStats summarizes how long successful loads took.
type DurationStats struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
}

func durationStats(loads []*database.LoadRecord) DurationStats {
	ds := DurationStats{Count: len(loads)}
	if len(loads) == 0 {
		return ds
	}
	xs := durations(loads)
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	ds.MeanMs = round(mean, 1)
	ds.StdDevMs = round(std, 1)
	ds.MinMs, ds.MaxMs = loads[0].DurationMs(), loads[0].DurationMs()
	for _, l := range loads[1:] {
		d := l.DurationMs()
		if d < ds.MinMs {
			ds.MinMs = d
		}
		if d > ds.MaxMs {
			ds.MaxMs = d
		}
	}
	return ds
}

func durations(loads []*database.LoadRecord) []float64 {
	xs := make([]float64, len(loads))
	for i, l := range loads {
		xs[i] = float64(l.DurationMs())
	}
	return xs
}

// ============================================================
// Slow Load Detection
// ============================================================

// SlowLoad identifies a load that took abnormally long.
type SlowLoad struct {
	LoadID     string  `json:"load_id"`
	FileCount  int     `json:"file_count"`
	DurationMs int64   `json:"duration_ms"`
	ZScore     float64 `json:"z_score"`
	Severity   string  `json:"severity"` // "low", "medium", "high"
}

// DetectSlowLoads flags loads whose duration Z-score exceeds 1.5.
//
// A Z-score > 2.0 is "medium" severity, > 3.0 is "high".
func (a *Analyzer) DetectSlowLoads(filter database.LoadFilter) ([]SlowLoad, error) {
	loads, err := a.finishedLoads(filter)
	if err != nil {
		return nil, err
	}
	return slowLoads(loads), nil
}

func slowLoads(loads []*database.LoadRecord) []SlowLoad {
	if len(loads) < 3 {
		return nil
	}
	xs := durations(loads)
	mean, std := stat.MeanStdDev(xs, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	var slow []SlowLoad
	for i, l := range loads {
		z := stat.StdScore(xs[i], mean, std)
		if z <= 1.5 {
			continue
		}
		severity := "low"
		if z > 3.0 {
			severity = "high"
		} else if z > 2.0 {
			severity = "medium"
		}
		slow = append(slow, SlowLoad{
			LoadID:     l.LoadID,
			FileCount:  l.FileCount,
			DurationMs: l.DurationMs(),
			ZScore:     round(z, 2),
			Severity:   severity,
		})
	}

	sort.Slice(slow, func(i, j int) bool {
		return slow[i].ZScore > slow[j].ZScore
	})
	return slow
}

// ============================================================
// Per-File Cost
// ============================================================

// FileCostModel fits duration = PerFileMs * files + OverheadMs.
type FileCostModel struct {
	Samples    int     `json:"samples"`
	PerFileMs  float64 `json:"per_file_ms"`
	OverheadMs float64 `json:"overhead_ms"`
	RSquared   float64 `json:"r_squared"`
}

// Predict estimates the duration of a load of n files.
func (m FileCostModel) Predict(n int) time.Duration {
	ms := m.PerFileMs*float64(n) + m.OverheadMs
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// EstimateFileCost regresses load duration on file count.
func (a *Analyzer) EstimateFileCost(filter database.LoadFilter) (*FileCostModel, error) {
	loads, err := a.finishedLoads(filter)
	if err != nil {
		return nil, err
	}
	return fileCost(loads), nil
}

func fileCost(loads []*database.LoadRecord) *FileCostModel {
	xs := make([]float64, len(loads))
	for i, l := range loads {
		xs[i] = float64(l.FileCount)
	}
	slope, intercept, r2 := fitLinear(xs, durations(loads))
	return &FileCostModel{
		Samples:    len(loads),
		PerFileMs:  round(slope, 3),
		OverheadMs: round(intercept, 1),
		RSquared:   round(r2, 3),
	}
}

// fitLinear is ordinary least squares of ys on xs. With fewer than two
// points, or no spread in xs, it returns a flat line at the mean.
func fitLinear(xs, ys []float64) (slope, intercept, rSquared float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	if len(xs) < 2 || stat.Variance(xs, nil) == 0 {
		return 0, stat.Mean(ys, nil), 0
	}
	intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	if stat.Variance(ys, nil) == 0 {
		return slope, intercept, 1
	}
	return slope, intercept, stat.RSquared(xs, ys, nil, intercept, slope)
}

// ============================================================
// Failure Breakdown
// ============================================================

// FailureEntry counts failed loads with one error code.
type FailureEntry struct {
	Code       string  `json:"code"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Example    string  `json:"example,omitempty"`
}

// FailureReport summarizes failed loads.
type FailureReport struct {
	TotalLoads  int            `json:"total_loads"`
	Failed      int            `json:"failed"`
	FailureRate float64        `json:"failure_rate"`
	Entries     []FailureEntry `json:"entries"`
}

// BreakdownFailures groups failed loads by error code.
func (a *Analyzer) BreakdownFailures(filter database.LoadFilter) (*FailureReport, error) {
	filter.State = nil
	loads, err := a.store.QueryLoads(filter)
	if err != nil {
		return nil, fmt.Errorf("querying loads for failure analysis: %w", err)
	}

	report := &FailureReport{TotalLoads: len(loads)}
	byCode := make(map[string]*FailureEntry)
	for _, l := range loads {
		if l.State != database.StateError {
			continue
		}
		report.Failed++
		code := "unknown"
		if l.ErrorCode != nil && *l.ErrorCode != "" {
			code = *l.ErrorCode
		}
		e, ok := byCode[code]
		if !ok {
			e = &FailureEntry{Code: code}
			byCode[code] = e
		}
		e.Count++
		if e.Example == "" && l.ErrorMessage != nil {
			e.Example = *l.ErrorMessage
		}
	}

	for _, e := range byCode {
		e.Percentage = round(float64(e.Count)/float64(report.Failed)*100, 1)
		report.Entries = append(report.Entries, *e)
	}
	sort.Slice(report.Entries, func(i, j int) bool {
		if report.Entries[i].Count != report.Entries[j].Count {
			return report.Entries[i].Count > report.Entries[j].Count
		}
		return report.Entries[i].Code < report.Entries[j].Code
	})
	if report.TotalLoads > 0 {
		report.FailureRate = round(float64(report.Failed)/float64(report.TotalLoads)*100, 1)
	}
	return report, nil
}

// ============================================================
// Full Report
// ============================================================

// Report is the complete output of `radview stats`.
type Report struct {
	GeneratedAt string                 `json:"generated_at"`
	History     *database.HistoryStats `json:"history"`
	Durations   DurationStats          `json:"durations"`
	SlowLoads   []SlowLoad             `json:"slow_loads"`
	FileCost    *FileCostModel         `json:"file_cost"`
	Failures    *FailureReport         `json:"failures"`
	Warnings    []string               `json:"warnings"`
}

// FullAnalysis runs every pass over the loads matching filter.
func (a *Analyzer) FullAnalysis(filter database.LoadFilter) (*Report, error) {
	report := &Report{GeneratedAt: a.now().Format(time.RFC3339)}

	stats, err := a.store.GetStats()
	if err != nil {
		return nil, fmt.Errorf("gathering history stats: %w", err)
	}
	report.History = stats

	loads, err := a.finishedLoads(filter)
	if err != nil {
		return nil, err
	}
	report.Durations = durationStats(loads)
	report.SlowLoads = slowLoads(loads)
	report.FileCost = fileCost(loads)

	failures, err := a.BreakdownFailures(filter)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Failure analysis failed: %v", err))
	} else {
		report.Failures = failures
	}

	for _, s := range report.SlowLoads {
		if s.Severity == "high" {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("SLOW LOAD: %s took %s for %d files (Z-score: %.2f).",
					s.LoadID, timeutil.FormatDuration(s.DurationMs), s.FileCount, s.ZScore))
		}
	}
	if failures != nil && failures.TotalLoads >= 5 && failures.FailureRate > 25 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("HIGH FAILURE RATE: %.1f%% of loads failed.", failures.FailureRate))
	}

	return report, nil
}

// FormatReport renders a report as markdown.
func FormatReport(report *Report) string {
	var b strings.Builder

	b.WriteString("# Radview Load Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n\n", report.GeneratedAt)

	if h := report.History; h != nil {
		b.WriteString("## History\n\n")
		b.WriteString("| Metric | Value |\n")
		b.WriteString("|--------|-------|\n")
		fmt.Fprintf(&b, "| Loads | %d |\n", h.TotalLoads)
		for _, state := range sortedKeys(h.ByState) {
			fmt.Fprintf(&b, "| %s | %d |\n", state, h.ByState[state])
		}
		fmt.Fprintf(&b, "| Files | %d |\n", h.TotalFiles)
		fmt.Fprintf(&b, "| Datasets | %d |\n", h.TotalDatasets)
		fmt.Fprintf(&b, "| Average Duration | %s |\n\n", timeutil.FormatDuration(int64(h.AvgDurationMs)))
		if len(h.ByModality) > 0 {
			b.WriteString("**Modalities:** ")
			parts := make([]string, 0, len(h.ByModality))
			for _, m := range sortedKeys(h.ByModality) {
				parts = append(parts, fmt.Sprintf("%s (%d)", m, h.ByModality[m]))
			}
			b.WriteString(strings.Join(parts, ", "))
			b.WriteString("\n\n")
		}
	}

	d := report.Durations
	if d.Count > 0 {
		b.WriteString("## Load Durations\n\n")
		fmt.Fprintf(&b, "- **Samples:** %d\n", d.Count)
		fmt.Fprintf(&b, "- **Mean:** %s (σ %s)\n", timeutil.FormatDuration(int64(d.MeanMs)), timeutil.FormatDuration(int64(d.StdDevMs)))
		fmt.Fprintf(&b, "- **Range:** %s to %s\n\n", timeutil.FormatDuration(d.MinMs), timeutil.FormatDuration(d.MaxMs))
	}

	if len(report.SlowLoads) > 0 {
		b.WriteString("## Slow Loads\n\n")
		b.WriteString("| Load | Files | Duration | Z-Score | Severity |\n")
		b.WriteString("|------|-------|----------|---------|----------|\n")
		for _, s := range report.SlowLoads {
			fmt.Fprintf(&b, "| %s | %d | %s | %.2f | %s |\n",
				s.LoadID, s.FileCount, timeutil.FormatDuration(s.DurationMs), s.ZScore, s.Severity)
		}
		b.WriteString("\n")
	}

	if fc := report.FileCost; fc != nil && fc.Samples >= 2 {
		b.WriteString("## Per-File Cost\n\n")
		fmt.Fprintf(&b, "- **Per File:** %.1fms\n", fc.PerFileMs)
		fmt.Fprintf(&b, "- **Overhead:** %.1fms\n", fc.OverheadMs)
		fmt.Fprintf(&b, "- **R² Fit:** %.3f\n", fc.RSquared)
		fmt.Fprintf(&b, "- **100-file Prediction:** %s\n\n", timeutil.FormatDuration(fc.Predict(100).Milliseconds()))
	}

	if f := report.Failures; f != nil && f.Failed > 0 {
		b.WriteString("## Failures\n\n")
		fmt.Fprintf(&b, "**Failure Rate:** %.1f%% (%d of %d)\n\n", f.FailureRate, f.Failed, f.TotalLoads)
		b.WriteString("| Code | Count | % | Example |\n")
		b.WriteString("|------|-------|---|---------|\n")
		for _, e := range f.Entries {
			fmt.Fprintf(&b, "| %s | %d | %.1f%% | %s |\n", e.Code, e.Count, e.Percentage, e.Example)
		}
		b.WriteString("\n")
	}

	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
