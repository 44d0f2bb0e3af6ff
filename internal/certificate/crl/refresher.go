package crl

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxListSize = 16 << 20

// Fetcher loads raw revocation list bytes from a source.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// SourceFetcher reads file:// paths, bare paths and http(s):// URLs.
type SourceFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f SourceFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse source: %w", err))
	}

	switch u.Scheme {
	case "", "file":
		path := source
		if u.Scheme == "file" {
			path = u.Path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return data, nil
	case "http", "https":
		return f.fetchHTTP(ctx, source)
	default:
		return nil, backoff.Permanent(fmt.Errorf("unsupported source scheme %q", u.Scheme))
	}
}

func (f SourceFetcher) fetchHTTP(ctx context.Context, source string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("fetch %s: status %d", source, resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("fetch %s: status %d", source, resp.StatusCode))
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxListSize))
}

// Refresher periodically reloads revocation lists into a List.
type Refresher struct {
	list       *List
	sources    []string
	issuers    []*x509.Certificate
	fetcher    Fetcher
	interval   time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	onRefresh  func(ctx context.Context, loaded int, err error)
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithFetcher overrides how sources are read.
func WithFetcher(f Fetcher) RefresherOption {
	return func(r *Refresher) {
		if f != nil {
			r.fetcher = f
		}
	}
}

// WithInterval sets the refresh period.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxRetries bounds retries of a transient fetch failure per source.
func WithMaxRetries(n uint64) RefresherOption {
	return func(r *Refresher) {
		r.maxRetries = n
	}
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(fn func() backoff.BackOff) RefresherOption {
	return func(r *Refresher) {
		if fn != nil {
			r.newBackOff = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRefreshHook is called after every refresh pass.
func WithRefreshHook(fn func(ctx context.Context, loaded int, err error)) RefresherOption {
	return func(r *Refresher) {
		r.onRefresh = fn
	}
}

// NewRefresher creates a Refresher that verifies lists against issuers.
func NewRefresher(list *List, sources []string, issuers []*x509.Certificate, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		list:       list,
		sources:    sources,
		issuers:    issuers,
		fetcher:    SourceFetcher{},
		interval:   time.Hour,
		maxRetries: 4,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start refreshes immediately and then every interval until ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "revocation list refresh incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshOnce loads every source and returns how many lists were accepted.
// Failed sources keep their previous list.
func (r *Refresher) RefreshOnce(ctx context.Context) (int, error) {
	var errs []error
	loaded := 0
	for _, source := range r.sources {
		if err := r.refreshSource(ctx, source); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}
		loaded++
	}
	err := errors.Join(errs...)
	if r.onRefresh != nil {
		r.onRefresh(ctx, loaded, err)
	}
	return loaded, err
}

func (r *Refresher) refreshSource(ctx context.Context, source string) error {
	var data []byte
	op := func() error {
		var err error
		data, err = r.fetcher.Fetch(ctx, source)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), r.maxRetries),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		r.logger.DebugContext(ctx, "revocation list fetch retry",
			"source", redactSource(source), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}

	rl, err := Parse(data)
	if err != nil {
		return err
	}
	return r.list.Update(rl, r.issuers)
}

// redactSource drops URL credentials and query strings.
func redactSource(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return source
	}
	u.User = nil
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "?")
}
