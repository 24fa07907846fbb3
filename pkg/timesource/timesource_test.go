package timesource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestResolver(timeout time.Duration, providers ...Provider) *Resolver {
	return New(testLogger, WithTimeout(timeout), WithProviders(providers...))
}

func TestResolveDateHeader(t *testing.T) {
	want := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("header provider used %s, want HEAD", r.Method)
		}
		w.Header().Set("Date", want.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestResolver(time.Second,
		Provider{Name: "header", Endpoint: srv.URL, Format: FormatHTTPHeader},
	).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", res.Timestamp, want)
	}
	if res.Source != "header" {
		t.Errorf("Source = %q, want header", res.Source)
	}
}

func TestResolveJSONISO(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Time
	}{
		// TimeAPI.io style: no zone marker, UTC implied.
		{"missing Z appended", `{"dateTime":"2025-03-10T12:30:00.1234567"}`,
			time.Date(2025, time.March, 10, 12, 30, 0, 123456700, time.UTC)},
		{"explicit Z kept", `{"dateTime":"2025-03-10T12:30:00Z"}`,
			time.Date(2025, time.March, 10, 12, 30, 0, 0, time.UTC)},
		// WorldTimeAPI style: numeric zone offset must not be mangled.
		{"numeric offset kept", `{"dateTime":"2025-03-10T14:30:00+02:00"}`,
			time.Date(2025, time.March, 10, 12, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if _, err := w.Write([]byte(tt.body)); err != nil {
					t.Errorf("write: %v", err)
				}
			}))
			defer srv.Close()

			res, err := newTestResolver(time.Second,
				Provider{Name: "json", Endpoint: srv.URL, Format: FormatJSONISO, Field: "dateTime"},
			).Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !res.Timestamp.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", res.Timestamp, tt.want)
			}
		})
	}
}

func TestResolveJSONEpochMillis(t *testing.T) {
	want := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte(`{"ms":1741608000000}`)); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer srv.Close()

	res, err := newTestResolver(time.Second,
		Provider{Name: "epoch", Endpoint: srv.URL, Format: FormatJSONEpochMillis, Field: "ms"},
	).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", res.Timestamp, want)
	}
}

func TestResolveRawISO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("\"2025-03-10T12:00:00Z\"\n")); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer srv.Close()

	res, err := newTestResolver(time.Second,
		Provider{Name: "raw", Endpoint: srv.URL, Format: FormatRawISO},
	).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	if !res.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", res.Timestamp, want)
	}
}

// TestResolveFallback checks the core failover contract: the first provider
// hangs past its timeout, the second answers, and the first is never
// retried.
func TestResolveFallback(t *testing.T) {
	var slowHits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slowHits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	want := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Date", want.Format(http.TimeFormat))
	}))
	defer good.Close()

	res, err := newTestResolver(100*time.Millisecond,
		Provider{Name: "slow", Endpoint: slow.URL, Format: FormatHTTPHeader},
		Provider{Name: "good", Endpoint: good.URL, Format: FormatHTTPHeader},
	).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != "good" {
		t.Errorf("Source = %q, want good", res.Source)
	}
	if !res.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", res.Timestamp, want)
	}
	if hits := slowHits.Load(); hits != 1 {
		t.Errorf("slow provider hit %d times, want exactly 1", hits)
	}
}

func TestResolveSkipsBadPayloads(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"no header": func(w http.ResponseWriter, _ *http.Request) {
			// httptest sets a Date header by default; suppress it.
			w.Header()["Date"] = nil
			w.WriteHeader(http.StatusOK)
		},
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		},
		"missing field": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"other":"2025-03-10T12:00:00Z"}`))
		},
		"non-numeric epoch": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ms":"soon"}`))
		},
		"garbage raw": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("tuesday-ish"))
		},
		"empty raw": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("  "))
		},
	}

	formats := map[string]Provider{
		"no header":         {Format: FormatHTTPHeader},
		"server error":      {Format: FormatHTTPHeader},
		"bad json":          {Format: FormatJSONISO, Field: "dateTime"},
		"missing field":     {Format: FormatJSONISO, Field: "dateTime"},
		"non-numeric epoch": {Format: FormatJSONEpochMillis, Field: "ms"},
		"garbage raw":       {Format: FormatRawISO},
		"empty raw":         {Format: FormatRawISO},
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			bad := httptest.NewServer(handler)
			defer bad.Close()

			want := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
			good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Date", want.Format(http.TimeFormat))
			}))
			defer good.Close()

			p := formats[name]
			p.Name = name
			p.Endpoint = bad.URL

			res, err := newTestResolver(time.Second,
				p,
				Provider{Name: "good", Endpoint: good.URL, Format: FormatHTTPHeader},
			).Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Source != "good" {
				t.Errorf("Source = %q, want fallback to good", res.Source)
			}
		})
	}
}

func TestResolveAllSourcesUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	res, err := newTestResolver(time.Second,
		Provider{Name: "a", Endpoint: down.URL, Format: FormatHTTPHeader},
		Provider{Name: "b", Endpoint: down.URL, Format: FormatJSONISO, Field: "dateTime"},
	).Resolve(context.Background())
	if !errors.Is(err, ErrAllSourcesUnavailable) {
		t.Fatalf("err = %v, want ErrAllSourcesUnavailable", err)
	}
	if !res.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero on failure", res.Timestamp)
	}
}

func TestResolveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestResolver(time.Second,
		Provider{Name: "a", Endpoint: "http://127.0.0.1:0", Format: FormatHTTPHeader},
	).Resolve(ctx)
	if !errors.Is(err, ErrAllSourcesUnavailable) {
		t.Fatalf("err = %v, want ErrAllSourcesUnavailable", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want wrapped context.Canceled", err)
	}
}

func TestParseISO(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2025-03-10T12:00:00Z", time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC), false},
		{"quoted with whitespace", "  \"2025-03-10T12:00:00Z\"  ", time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC), false},
		{"no zone marker", "2025-03-10T12:00:00", time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"garbage", "not-a-time", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseISO(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseISO(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseISO(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNTPProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NTP integration test in -short mode")
	}

	res, err := newTestResolver(5*time.Second,
		Provider{Name: "Google NTP", Endpoint: "time.google.com", Format: FormatNTP},
	).Resolve(context.Background())
	if err != nil {
		t.Skipf("NTP unreachable: %v", err)
	}

	if diff := time.Since(res.Timestamp); diff > time.Minute || diff < -time.Minute {
		t.Errorf("NTP time %v differs from local clock by %v", res.Timestamp, diff)
	}
}
