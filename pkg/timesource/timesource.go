// Package timesource obtains a trustworthy reference time from a prioritized
// chain of external providers. Providers are tried strictly in order, one
// request each, with a fixed per-provider timeout; the first valid instant
// wins. The chain is data: adding a provider means appending a descriptor,
// not writing new fetch code.
package timesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/ntp"
)

// Format tags how a provider's response carries the timestamp.
type Format int

const (
	// FormatHTTPHeader reads the RFC-1123 Date header of a HEAD response.
	FormatHTTPHeader Format = iota
	// FormatJSONISO reads an ISO-8601 string from a JSON field. A missing
	// UTC marker is appended before parsing.
	FormatJSONISO
	// FormatJSONEpochMillis reads an epoch-millisecond integer from a JSON
	// field.
	FormatJSONEpochMillis
	// FormatRawISO parses the response body as a bare ISO-8601 string.
	FormatRawISO
	// FormatNTP queries the endpoint as an NTP host instead of over HTTP.
	FormatNTP
)

// Provider describes one external time source.
type Provider struct {
	Name     string
	Endpoint string
	Format   Format
	// Field names the JSON member holding the timestamp for the JSON
	// formats; ignored otherwise.
	Field string
}

// Result is a successfully resolved reference time.
type Result struct {
	Timestamp time.Time
	Source    string
}

// ErrAllSourcesUnavailable is returned by Resolve when every provider in
// the chain has failed. Check with errors.Is; the last provider's error is
// wrapped alongside for diagnostics.
var ErrAllSourcesUnavailable = errors.New("all time sources unavailable")

// maxBodySize caps how much of an untrusted provider response we read.
const maxBodySize = 1 << 20

// DefaultProviders returns the standard chain: GitHub's Date header first
// (high availability, HEAD request), then two JSON time APIs, then Google
// public NTP as a last resort.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "GitHub", Endpoint: "https://api.github.com", Format: FormatHTTPHeader},
		{Name: "TimeAPI.io", Endpoint: "https://timeapi.io/api/Time/current/zone?timeZone=UTC", Format: FormatJSONISO, Field: "dateTime"},
		{Name: "WorldTimeAPI", Endpoint: "https://worldtimeapi.org/api/ip", Format: FormatJSONISO, Field: "datetime"},
		{Name: "Google NTP", Endpoint: "time.google.com", Format: FormatNTP},
	}
}

// Resolver queries providers sequentially until one yields a valid instant.
// It performs no caching and no retries; re-resolve policy belongs to the
// caller.
type Resolver struct {
	logger    *slog.Logger
	client    *http.Client
	providers []Provider
	timeout   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-provider timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithHTTPClient sets the HTTP client used for all HTTP providers.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithProviders replaces the provider chain.
func WithProviders(providers ...Provider) Option {
	return func(r *Resolver) {
		r.providers = providers
	}
}

// New creates a Resolver with the default provider chain.
func New(logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:    logger,
		providers: DefaultProviders(),
		timeout:   5 * time.Second,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries each provider in order and returns the first valid
// timestamp with the name of the provider that produced it. Each provider
// gets exactly one attempt bounded by the per-provider timeout; worst case
// latency is the sum of the timeouts. When the chain is exhausted the error
// matches ErrAllSourcesUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (Result, error) {
	var lastErr error
	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAllSourcesUnavailable, err)
		}

		ts, err := r.query(ctx, p)
		if err != nil {
			r.logger.Warn("time source failed, advancing to next",
				"source", p.Name, "error", err)
			lastErr = err
			continue
		}

		r.logger.Debug("time source resolved", "source", p.Name, "timestamp", ts)
		return Result{Timestamp: ts, Source: p.Name}, nil
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: last: %w", ErrAllSourcesUnavailable, lastErr)
	}
	return Result{}, ErrAllSourcesUnavailable
}

func (r *Resolver) query(ctx context.Context, p Provider) (time.Time, error) {
	if p.Format == FormatNTP {
		return r.queryNTP(p)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	method := http.MethodGet
	if p.Format == FormatHTTPHeader {
		// HEAD keeps the response down to headers; the Date header is all
		// we want.
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, p.Endpoint, http.NoBody)
	if err != nil {
		return time.Time{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := r.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Debug("failed to close response body", "source", p.Name, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, fmt.Errorf("HTTP %d from %s", resp.StatusCode, p.Endpoint)
	}

	var ts time.Time
	switch p.Format {
	case FormatHTTPHeader:
		ts, err = parseDateHeader(resp)
	case FormatJSONISO, FormatJSONEpochMillis:
		var body []byte
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return time.Time{}, fmt.Errorf("reading body: %w", err)
		}
		ts, err = parseJSONField(body, p.Field, p.Format)
	case FormatRawISO:
		var body []byte
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return time.Time{}, fmt.Errorf("reading body: %w", err)
		}
		ts, err = parseISO(string(body))
	default:
		return time.Time{}, fmt.Errorf("unknown response format %d", p.Format)
	}
	if err != nil {
		return time.Time{}, err
	}

	if ts.IsZero() {
		return time.Time{}, errors.New("provider returned zero instant")
	}
	return ts, nil
}

// queryNTP asks the endpoint as an NTP server. The beevik/ntp client takes
// a plain timeout rather than a context; the resolver timeout is reused so
// the bounded-progress guarantee holds for NTP providers too.
func (r *Resolver) queryNTP(p Provider) (time.Time, error) {
	resp, err := ntp.QueryWithOptions(p.Endpoint, ntp.QueryOptions{Timeout: r.timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("NTP query failed: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("NTP response invalid: %w", err)
	}
	return time.Now().Add(resp.ClockOffset), nil
}

func parseDateHeader(resp *http.Response) (time.Time, error) {
	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, errors.New("no Date header in response")
	}
	ts, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing Date header %q: %w", date, err)
	}
	return ts, nil
}

func parseJSONField(body []byte, field string, format Format) (time.Time, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return time.Time{}, fmt.Errorf("decoding JSON body: %w", err)
	}
	raw, ok := payload[field]
	if !ok {
		return time.Time{}, fmt.Errorf("JSON field %q missing", field)
	}

	if format == FormatJSONEpochMillis {
		var millis int64
		if err := json.Unmarshal(raw, &millis); err != nil {
			return time.Time{}, fmt.Errorf("JSON field %q is not an integer: %w", field, err)
		}
		return time.UnixMilli(millis).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("JSON field %q is not a string: %w", field, err)
	}
	return parseISO(s)
}

// parseISO parses an ISO-8601 timestamp string. Some providers omit the
// zone marker entirely; those values are UTC by contract, so a "Z" is
// appended when the first parse fails.
func parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
	if s == "" {
		return time.Time{}, errors.New("empty timestamp string")
	}

	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	if !strings.HasSuffix(s, "Z") {
		if ts, err := time.Parse(time.RFC3339Nano, s+"Z"); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
