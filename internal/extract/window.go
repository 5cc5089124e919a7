package extract

import (
	"time"
)

// Window is an extraction time range in ISO-8601.
type Window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResolveWindow picks each bound from the flag, then the configured default, then
// now-1d..now.
func ResolveWindow(flagFrom, flagTo, defaultStart, defaultEnd string, now time.Time) Window {
	now = now.UTC()
	w := Window{From: flagFrom, To: flagTo}
	if w.To == "" {
		w.To = defaultEnd
	}
	if w.To == "" {
		w.To = now.Format(time.RFC3339)
	}
	if w.From == "" {
		w.From = defaultStart
	}
	if w.From == "" {
		w.From = now.AddDate(0, 0, -1).Format(time.RFC3339)
	}
	return w
}

// DefaultPrefix names the output directory of a run started at now.
func DefaultPrefix(now time.Time) string {
	return "botmaker/run-" + now.UTC().Format("20060102T150405Z")
}
