package main

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/orchestrator"
)

func (a *app) rule() {
	fmt.Fprintln(a.stdout, strings.Repeat("=", 65))
}

func (a *app) banner(title string) {
	fmt.Fprintln(a.stdout)
	a.rule()
	fmt.Fprintf(a.stdout, "  GRID Series Fetcher - %s\n", title)
	a.rule()
	fmt.Fprintln(a.stdout)
}

// preview describes what a fetch would do before anything is written.
func (a *app) preview(run *checkpoint.Run, isNew bool, sel orchestrator.Selection) {
	state := "continuing"
	if isNew {
		state = "new"
	}
	dir := a.runDir(run.ID)
	w := a.stdout

	a.banner("Run Preview")
	fmt.Fprintf(w, "  Run ID:         %s (%s)\n", run.ID, state)
	fmt.Fprintf(w, "  Output:         %s\n\n", dir)
	fmt.Fprintf(w, "  Data Source:    %s\n", run.Source)
	fmt.Fprintf(w, "  Series Count:   %d\n", len(run.Identifiers))
	fmt.Fprintf(w, "  To Fetch:       %d\n", len(sel.Selected))
	if len(sel.Skipped) > 0 {
		fmt.Fprintf(w, "  Skipped:        %d (outside -offset/-limit)\n", len(sel.Skipped))
	}
	fmt.Fprintf(w, "  Estimated Time: %s\n\n", formatDuration(orchestrator.Estimate(len(sel.Selected), a.cfg.MinSpacing)))
	fmt.Fprintln(w, "  Output Structure:")
	fmt.Fprintf(w, "    %s\n", filepath.Join(a.cfg.OutputDir, checkpoint.DefaultSQLiteName))
	fmt.Fprintf(w, "    %s/\n", dir)
	fmt.Fprintln(w, "    ├── fetch.log")
	fmt.Fprintf(w, "    └── %s/   (after -export)\n\n", a.cfg.Format)
	a.rule()
	fmt.Fprintln(w, "  Options You May Want to Configure:")
	a.rule()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  -output DIR     Base output directory (current: %s)\n", a.cfg.OutputDir)
	fmt.Fprintf(w, "  -run NAME       Custom run name (current: %s)\n", run.ID)
	fmt.Fprintf(w, "  -limit N        Limit series count (current: %s)\n", orNone(a.opts.limit))
	fmt.Fprintf(w, "  -offset N       Skip pending series (current: %s)\n", orNone(a.opts.offset))
	fmt.Fprintln(w)
	a.rule()
}

// confirm asks a Y/n question on stdin. Empty input means yes; EOF means no.
func (a *app) confirm(action string) bool {
	fmt.Fprintf(a.stdout, "\n%s? [Y/n]: ", action)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(a.stdout)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}

func orNone(n int) string {
	if n <= 0 {
		return "none"
	}
	return fmt.Sprint(n)
}

// formatDuration renders d as "45s", "12m 5s" or "3h 20m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
