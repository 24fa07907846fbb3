// Package main implements the offclock CLI: it syncs against internet time
// sources, computes workday logout times from an arrival time, and can
// export a calendar alarm or watch shift progress live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeGROOVE-dev/offclock/pkg/ics"
	"github.com/codeGROOVE-dev/offclock/pkg/platform"
	"github.com/codeGROOVE-dev/offclock/pkg/report"
	"github.com/codeGROOVE-dev/offclock/pkg/schedule"
	"github.com/codeGROOVE-dev/offclock/pkg/syncer"
	"github.com/codeGROOVE-dev/offclock/pkg/timesource"
)

var (
	arrival     = flag.String("arrival", "", "Arrival time HH:MM as shown on your clock (or set OFFCLOCK_ARRIVAL)")
	adjustment  = flag.Int("adjustment", 0, "Adjustment in minutes on top of the shift, negative for early leave (or set OFFCLOCK_ADJUSTMENT_MINUTES)")
	clockOffset = flag.Int("clock-offset", 0, "Minutes your clock runs fast (positive) or slow (negative) (or set OFFCLOCK_CLOCK_OFFSET_MINUTES)")
	shift       = flag.Duration("shift", schedule.DefaultShift, "Shift duration (or set OFFCLOCK_SHIFT)")
	icsPath     = flag.String("ics", "", "Write a calendar alarm for the adjusted logout to this path")
	watch       = flag.Bool("watch", false, "Stay running and show live shift progress")
	interval    = flag.Duration("interval", time.Second, "Progress refresh interval in watch mode")
	resync      = flag.Duration("resync", 15*time.Minute, "Time re-sync interval in watch mode")
	timeout     = flag.Duration("timeout", 5*time.Second, "Per-provider timeout for time sources")
	noSync      = flag.Bool("no-sync", false, "Skip internet time sync and trust the device clock")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	version     = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("offclock v1.0.0")
		return
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}
	applyEnvFallbacks(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := syncer.New(timesource.New(logger, timesource.WithTimeout(*timeout)), logger)
	if !*noSync {
		if err := s.Sync(ctx); err != nil {
			logger.Warn("time sync failed, falling back to device clock", "error", err)
		}
	}

	offset := time.Duration(*clockOffset) * time.Minute
	res := schedule.Compute(schedule.Input{
		Arrival:      *arrival,
		Adjustment:   time.Duration(*adjustment) * time.Minute,
		ManualOffset: offset,
		Shift:        *shift,
		Reference:    s.Now(),
	})

	report.Write(os.Stdout, res, s.Status())

	if *icsPath != "" {
		if err := writeAlarm(*icsPath, res, offset); err != nil {
			logger.Error("failed to write alarm file", "path", *icsPath, "error", err)
			os.Exit(1)
		}
	}

	if *watch {
		if *arrival == "" {
			fmt.Fprintln(os.Stderr, "-watch needs -arrival to be set")
			os.Exit(1)
		}
		if !*noSync {
			go func() {
				_ = s.Run(ctx, *resync)
			}()
		}
		watchProgress(ctx, s, offset)
	}
}

// applyEnvFallbacks fills flags that were left at their defaults from the
// OFFCLOCK_* environment.
func applyEnvFallbacks(logger *slog.Logger) {
	if *arrival == "" {
		*arrival = os.Getenv("OFFCLOCK_ARRIVAL")
	}
	if *adjustment == 0 {
		if v := os.Getenv("OFFCLOCK_ADJUSTMENT_MINUTES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*adjustment = n
			} else {
				logger.Warn("ignoring bad OFFCLOCK_ADJUSTMENT_MINUTES", "value", v)
			}
		}
	}
	if *clockOffset == 0 {
		if v := os.Getenv("OFFCLOCK_CLOCK_OFFSET_MINUTES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*clockOffset = n
			} else {
				logger.Warn("ignoring bad OFFCLOCK_CLOCK_OFFSET_MINUTES", "value", v)
			}
		}
	}
	if *shift == schedule.DefaultShift {
		if v := os.Getenv("OFFCLOCK_SHIFT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*shift = d
			} else {
				logger.Warn("ignoring bad OFFCLOCK_SHIFT", "value", v)
			}
		}
	}
}

// writeAlarm saves a floating-time calendar alarm for the adjusted logout
// as shown on the user's own clock.
func writeAlarm(path string, res schedule.Result, offset time.Duration) error {
	if res.UserClockAdjustedLogout == nil {
		return fmt.Errorf("no logout time to export, set -arrival")
	}
	ev := ics.LogoutEvent(*res.UserClockAdjustedLogout, offset)
	if err := os.WriteFile(path, ev.Encode(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("alarm saved to %s, add it to %s\n", path, platform.Detect().CalendarLabel())
	return nil
}

// watchProgress redraws the live progress line every interval until the
// shift completes or the context is cancelled.
func watchProgress(ctx context.Context, s *syncer.Syncer, offset time.Duration) {
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
			now := s.Now()
			res := schedule.Compute(schedule.Input{
				Arrival:      *arrival,
				Adjustment:   time.Duration(*adjustment) * time.Minute,
				ManualOffset: offset,
				Shift:        *shift,
				Reference:    now,
			})
			if res.ActualAdjustedLogout == nil {
				continue
			}
			percent := schedule.Progress(*arrival, offset, *res.ActualAdjustedLogout, now)
			report.WriteProgress(os.Stdout, percent, now)
			if percent >= 100 {
				fmt.Println()
				fmt.Println("Shift complete, log out now!")
				return
			}
		}
	}
}
