package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/offclock/pkg/schedule"
	"github.com/codeGROOVE-dev/offclock/pkg/syncer"
)

func init() {
	color.NoColor = true
}

func TestWrite(t *testing.T) {
	res := schedule.Compute(schedule.Input{
		Arrival:      "09:00",
		ManualOffset: 10 * time.Minute,
		Shift:        schedule.DefaultShift,
		Reference:    time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC),
	})
	st := syncer.Status{Source: "GitHub", Offset: -10 * time.Minute, SyncedAt: time.Now()}

	var sb strings.Builder
	Write(&sb, res, st)
	out := sb.String()

	for _, want := range []string{
		"synced via GitHub",
		"17:20", // actual standard logout
		"17:30", // user-clock standard logout
		"total workday: 8h30m",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "+1 day") {
		t.Errorf("unexpected next-day marker:\n%s", out)
	}
}

func TestWriteNextDayMarker(t *testing.T) {
	res := schedule.Compute(schedule.Input{
		Arrival:   "22:00",
		Shift:     schedule.DefaultShift,
		Reference: time.Date(2025, time.March, 10, 23, 0, 0, 0, time.UTC),
	})

	var sb strings.Builder
	Write(&sb, res, syncer.Status{Source: "GitHub"})

	if !strings.Contains(sb.String(), "+1 day") {
		t.Errorf("missing next-day marker:\n%s", sb.String())
	}
}

func TestWriteNoArrival(t *testing.T) {
	res := schedule.Compute(schedule.Input{
		Adjustment: 30 * time.Minute,
		Shift:      schedule.DefaultShift,
	})

	var sb strings.Builder
	Write(&sb, res, syncer.Status{})
	out := sb.String()

	if !strings.Contains(out, "no arrival time set") {
		t.Errorf("missing placeholder:\n%s", out)
	}
	if !strings.Contains(out, "total workday: 9h00m") {
		t.Errorf("missing total duration:\n%s", out)
	}
	if !strings.Contains(out, "sync disabled") {
		t.Errorf("missing device-clock notice:\n%s", out)
	}
}

func TestWriteOffline(t *testing.T) {
	var sb strings.Builder
	Write(&sb, schedule.Result{}, syncer.Status{Source: "offline", Err: context.DeadlineExceeded})

	if !strings.Contains(sb.String(), "trusting device clock") {
		t.Errorf("missing offline notice:\n%s", sb.String())
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		width   int
		filled  int
	}{
		{0, 10, 0},
		{50, 10, 5},
		{100, 10, 10},
		{-5, 10, 0},
		{250, 10, 10},
	}

	for _, tt := range tests {
		bar := ProgressBar(tt.percent, tt.width)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Errorf("ProgressBar(%v, %d) filled %d cells, want %d", tt.percent, tt.width, got, tt.filled)
		}
		if got := strings.Count(bar, "░"); got != tt.width-tt.filled {
			t.Errorf("ProgressBar(%v, %d) empty cells = %d, want %d", tt.percent, tt.width, got, tt.width-tt.filled)
		}
	}

	if ProgressBar(50, 0) != "" {
		t.Error("zero width should produce empty string")
	}
}
