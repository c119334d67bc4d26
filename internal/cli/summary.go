package cli

import (
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/labforge/labctl/internal/snapshot"
	"github.com/labforge/labctl/internal/stage"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	failureStyle = color.New(color.FgRed, color.Bold)
	mutedStyle   = color.New(color.FgHiBlack)
)

const (
	checkmark = "✓"
	xmark     = "✗"
	arrow     = "→"
)

func printStageEvent(w io.Writer, ev stage.Event) {
	switch ev.Status {
	case "started":
		headerStyle.Fprintf(w, "\n%s configuring %s\n", arrow, ev.Role)
	case "completed":
		successStyle.Fprintf(w, "%s %s configured ", checkmark, ev.Role)
		mutedStyle.Fprintf(w, "(%s)\n", ev.Duration.Round(time.Second))
	case "failed":
		failureStyle.Fprintf(w, "%s %s failed ", xmark, ev.Role)
		mutedStyle.Fprintf(w, "(%s)\n", ev.Duration.Round(time.Second))
	}
}

func printStageSummary(w io.Writer, results []stage.Result) {
	if len(results) == 0 {
		return
	}
	headerStyle.Fprintln(w, "\nConfiguration summary:")
	for _, r := range results {
		via := "direct"
		if r.Proxied {
			via = "via pivot"
		}
		if r.OK() {
			successStyle.Fprintf(w, "  %s %-8s %s", checkmark, r.Role, r.Status)
		} else {
			failureStyle.Fprintf(w, "  %s %-8s %s", xmark, r.Role, r.Status)
		}
		mutedStyle.Fprintf(w, " (%s)\n", via)
	}
}

func printSnapshotSummary(w io.Writer, results []snapshot.Result) {
	headerStyle.Fprintln(w, "\nSnapshot summary:")
	for _, r := range results {
		if r.Err != nil {
			failureStyle.Fprintf(w, "  %s %-8s %v\n", xmark, r.Role, r.Err)
			continue
		}
		successStyle.Fprintf(w, "  %s %-8s %s", checkmark, r.Role, r.Record.AMIID)
		mutedStyle.Fprintf(w, " (from %s)\n", r.Record.InstanceID)
	}
}
