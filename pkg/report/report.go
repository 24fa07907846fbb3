// Package report renders schedule results and sync state for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/offclock/pkg/schedule"
	"github.com/codeGROOVE-dev/offclock/pkg/syncer"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	valueColor   = color.New(color.FgGreen, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
	warnColor    = color.New(color.FgYellow)
	nextDayColor = color.New(color.FgRed)
)

// Write renders the full calculation result to w.
func Write(w io.Writer, res schedule.Result, st syncer.Status) {
	writeSyncLine(w, st)

	if res.ActualStandardLogout == nil {
		fmt.Fprintf(w, "%s no arrival time set\n", dimColor.Sprint("--:--"))
		fmt.Fprintf(w, "total workday: %s\n", formatMinutes(res.TotalMinutes))
		return
	}

	fmt.Fprintf(w, "%s\n", headerColor.Sprint("Actual time (internet-verified)"))
	fmt.Fprintf(w, "  standard logout: %s%s\n",
		valueColor.Sprint(schedule.FormatClock(*res.ActualStandardLogout)),
		nextDayMarker(res.NextDayStandard))
	fmt.Fprintf(w, "  adjusted logout: %s%s\n",
		valueColor.Sprint(schedule.FormatClock(*res.ActualAdjustedLogout)),
		nextDayMarker(res.NextDayAdjusted))

	fmt.Fprintf(w, "%s\n", headerColor.Sprint("On your clock"))
	fmt.Fprintf(w, "  standard logout: %s%s\n",
		valueColor.Sprint(schedule.FormatClock(*res.UserClockStandardLogout)),
		nextDayMarker(res.NextDayStandard))
	fmt.Fprintf(w, "  adjusted logout: %s%s\n",
		valueColor.Sprint(schedule.FormatClock(*res.UserClockAdjustedLogout)),
		nextDayMarker(res.NextDayAdjusted))

	fmt.Fprintf(w, "total workday: %s\n", formatMinutes(res.TotalMinutes))
}

// WriteProgress renders a single-line live progress bar for watch mode.
// The line is terminated with a carriage return so it redraws in place.
func WriteProgress(w io.Writer, percent float64, now time.Time) {
	fmt.Fprintf(w, "\r%s %s %s ",
		dimColor.Sprint(schedule.FormatClock(now)),
		ProgressBar(percent, 30),
		valueColor.Sprintf("%5.1f%%", percent))
}

// ProgressBar builds a fixed-width textual bar for percent (clamped 0-100).
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	percent = math.Min(math.Max(percent, 0), 100)
	filled := int(math.Round(percent / 100 * float64(width)))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func writeSyncLine(w io.Writer, st syncer.Status) {
	if st.Offline() {
		fmt.Fprintf(w, "%s\n", warnColor.Sprint("time sync unavailable, trusting device clock"))
		return
	}
	if st.Source == "" {
		// Sync never attempted (-no-sync).
		fmt.Fprintf(w, "%s\n", dimColor.Sprint("using device clock (sync disabled)"))
		return
	}
	fmt.Fprintf(w, "synced via %s %s\n",
		headerColor.Sprint(st.Source),
		dimColor.Sprintf("(device clock off by %s)", formatOffset(st.Offset)))
}

func nextDayMarker(nextDay bool) string {
	if !nextDay {
		return ""
	}
	return nextDayColor.Sprint(" (+1 day)")
}

func formatMinutes(minutes int) string {
	sign := ""
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%dh%02dm", sign, minutes/60, minutes%60)
}

func formatOffset(offset time.Duration) string {
	return offset.Round(time.Millisecond).String()
}
