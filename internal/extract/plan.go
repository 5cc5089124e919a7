package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PlanWindow is one scheduled extraction.
type PlanWindow struct {
	Start  time.Time
	End    time.Time
	Prefix string
}

// Bounds returns the window as RFC 3339 UTC strings.
func (w PlanWindow) Bounds() (from, to string) {
	return w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339)
}

// MonthWindows returns one window per calendar month of year, prefixed
// <root>/<year>-<mm>.
func MonthWindows(year int, root string) []PlanWindow {
	root = strings.TrimRight(root, "/")
	out := make([]PlanWindow, 0, 12)
	for m := time.January; m <= time.December; m++ {
		start := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		out = append(out, PlanWindow{
			Start:  start,
			End:    start.AddDate(0, 1, 0),
			Prefix: fmt.Sprintf("%s/%d-%02d", root, year, int(m)),
		})
	}
	return out
}

// SplitWindow halves w at its midpoint into <prefix>-a and <prefix>-b.
func SplitWindow(w PlanWindow) [2]PlanWindow {
	mid := w.Start.Add(w.End.Sub(w.Start) / 2)
	return [2]PlanWindow{
		{Start: w.Start, End: mid, Prefix: w.Prefix + "-a"},
		{Start: mid, End: w.End, Prefix: w.Prefix + "-b"},
	}
}

// PlanText renders windows one per line.
func PlanText(windows []PlanWindow) string {
	var sb strings.Builder
	sb.WriteString("Extraction plan:")
	for _, w := range windows {
		from, to := w.Bounds()
		fmt.Fprintf(&sb, "\n- %s -> %s  |  prefix: %s", from, to, w.Prefix)
	}
	return sb.String()
}

// RunFunc extracts one planned window.
type RunFunc func(ctx context.Context, w PlanWindow) error

// ExecutePlan runs every window. A failed window is retried as two halves and counts as
// failed when either half fails. It returns the number of failed windows; the error is
// non-nil only when ctx ends the plan early.
func ExecutePlan(ctx context.Context, windows []PlanWindow, run RunFunc, logger *slog.Logger) (int, error) {
	failures := 0
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		err := run(ctx, w)
		if err == nil {
			continue
		}
		logger.Warn("window extraction failed, splitting", "prefix", w.Prefix, "error", err)

		halfFailed := false
		for _, half := range SplitWindow(w) {
			if err := ctx.Err(); err != nil {
				return failures, err
			}
			if err := run(ctx, half); err != nil {
				logger.Error("half-window extraction failed", "prefix", half.Prefix, "error", err)
				halfFailed = true
			}
		}
		if halfFailed {
			failures++
		}
	}
	return failures, nil
}

// WindowOptions converts a planned window into run options. Planned runs always use
// long-term search and no per-chat limits.
func WindowOptions(w PlanWindow) Options {
	from, to := w.Bounds()
	return Options{From: from, To: to, LongTerm: true, OutputPrefix: w.Prefix}
}
