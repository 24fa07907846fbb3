// Package main implements the offclock web server: a small JSON API over
// the time sync and schedule calculation packages.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeGROOVE-dev/offclock/pkg/ics"
	"github.com/codeGROOVE-dev/offclock/pkg/schedule"
	"github.com/codeGROOVE-dev/offclock/pkg/syncer"
	"github.com/codeGROOVE-dev/offclock/pkg/timesource"
)

var (
	port    = flag.String("port", "8080", "Port for web server (or set PORT)")
	syncTTL = flag.Duration("sync-ttl", 15*time.Minute, "How long a resolved offset stays fresh")
	timeout = flag.Duration("timeout", 5*time.Second, "Per-provider timeout for time sources")
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	version = flag.Bool("version", false, "Show version")
)

type rateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{requests: make(map[string][]time.Time)}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	var valid []time.Time
	for _, t := range rl.requests[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	// Rate limit: 60 requests per minute per IP
	if len(valid) >= 60 {
		rl.requests[ip] = valid
		return false
	}

	rl.requests[ip] = append(valid, now)
	return true
}

type server struct {
	syncer  *syncer.Syncer
	limiter *rateLimiter
	logger  *slog.Logger
}

func main() {
	flag.Parse()

	if *version {
		fmt.Println("offclock-server v1.0.0")
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}
	if p := os.Getenv("PORT"); *port == "8080" && p != "" {
		*port = p
	}

	logger.Info("Server configuration", "port", *port, "sync_ttl", *syncTTL, "timeout", *timeout)

	resolver := timesource.New(logger, timesource.WithTimeout(*timeout))
	srv := &server{
		syncer:  syncer.New(resolver, logger, syncer.WithTTL(*syncTTL)),
		limiter: newRateLimiter(),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/sync", srv.handleSync)
	mux.HandleFunc("GET /api/schedule", srv.handleSchedule)
	mux.HandleFunc("GET /api/alarm.ics", srv.handleAlarm)

	httpSrv := &http.Server{
		Addr:              ":" + *port,
		Handler:           srv.wrap(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", *port)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("Server shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
}

// wrap applies rate limiting and request logging to all handlers.
func (s *server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "ip", ip, "duration", time.Since(start))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (*server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type syncResponse struct {
	Timestamp time.Time `json:"timestamp"`
	SyncedAt  time.Time `json:"synced_at,omitempty"`
	Source    string    `json:"source"`
	OffsetMS  int64     `json:"offset_ms"`
	Offline   bool      `json:"offline"`
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.Sync(r.Context()); err != nil {
		s.logger.Warn("sync request degraded to device clock", "error", err)
	}

	st := s.syncer.Status()
	writeJSON(w, s.logger, syncResponse{
		Timestamp: s.syncer.Now().UTC(),
		SyncedAt:  st.SyncedAt,
		Source:    st.Source,
		OffsetMS:  st.Offset.Milliseconds(),
		Offline:   st.Offline(),
	})
}

type scheduleResponse struct {
	schedule.Result
	Reference       time.Time `json:"reference"`
	Source          string    `json:"source"`
	ProgressPercent float64   `json:"progress_percent"`
}

func (s *server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	in, ok := s.scheduleInput(w, r)
	if !ok {
		return
	}

	res := schedule.Compute(in)
	resp := scheduleResponse{
		Result:    res,
		Reference: in.Reference,
		Source:    s.syncer.Status().Source,
	}
	if res.ActualAdjustedLogout != nil {
		resp.ProgressPercent = schedule.Progress(in.Arrival, in.ManualOffset, *res.ActualAdjustedLogout, in.Reference)
	}
	writeJSON(w, s.logger, resp)
}

func (s *server) handleAlarm(w http.ResponseWriter, r *http.Request) {
	in, ok := s.scheduleInput(w, r)
	if !ok {
		return
	}
	if in.Arrival == "" {
		http.Error(w, "arrival is required", http.StatusBadRequest)
		return
	}

	res := schedule.Compute(in)
	ev := ics.LogoutEvent(*res.UserClockAdjustedLogout, in.ManualOffset)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="logout_alarm.ics"`)
	if _, err := w.Write(ev.Encode()); err != nil {
		s.logger.Debug("failed to write alarm response", "error", err)
	}
}

// scheduleInput parses the shared query parameters and resolves the
// reference time, syncing first so the offset is as fresh as the TTL
// allows. A sync failure is not fatal; the device clock is used instead.
func (s *server) scheduleInput(w http.ResponseWriter, r *http.Request) (schedule.Input, bool) {
	q := r.URL.Query()

	adjustment, err := minutesParam(q.Get("adjustment"))
	if err != nil {
		http.Error(w, "adjustment must be an integer minute count", http.StatusBadRequest)
		return schedule.Input{}, false
	}
	offset, err := minutesParam(q.Get("offset"))
	if err != nil {
		http.Error(w, "offset must be an integer minute count", http.StatusBadRequest)
		return schedule.Input{}, false
	}

	shift := schedule.DefaultShift
	if v := q.Get("shift"); v != "" {
		shift, err = time.ParseDuration(v)
		if err != nil {
			http.Error(w, "shift must be a duration like 8h30m", http.StatusBadRequest)
			return schedule.Input{}, false
		}
	}

	if err := s.syncer.Sync(r.Context()); err != nil {
		s.logger.Warn("schedule request degraded to device clock", "error", err)
	}

	return schedule.Input{
		Arrival:      q.Get("arrival"),
		Adjustment:   adjustment,
		ManualOffset: offset,
		Shift:        shift,
		Reference:    s.syncer.Now(),
	}, true
}

func minutesParam(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}
