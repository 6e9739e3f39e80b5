// Package usage collects quota, cost, and rate-limit snapshots from every
// connected provider in parallel.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/providers"
	"github.com/theirongolddev/cbench/internal/retry"
)

// DefaultTimeout bounds each provider's fetch independently.
const DefaultTimeout = 10 * time.Second

// ErrUnknownProvider is returned when a filter names no connected provider.
var ErrUnknownProvider = errors.New("usage: unknown provider")

// FetchError is one provider's failure. It never aborts the batch.
type FetchError struct {
	ProviderID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("usage: %s: %v", e.ProviderID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Connection is one entry of the provider registry.
type Connection struct {
	ID          string
	Name        string
	Fetcher     providers.Fetcher
	Credentials providers.Credentials
}

// Scope describes where usage was requested from. It only annotates logs.
type Scope struct {
	SessionID string
	Directory string
}

// Options tunes an Aggregator. Zero values use defaults.
type Options struct {
	Timeout time.Duration
	// Retries is the number of extra attempts per provider within Timeout.
	Retries int
	Policy  *retry.Policy
	Logger  *slog.Logger
	Now     func() time.Time
}

// Aggregator fetches and normalizes usage across connections.
type Aggregator struct {
	conns []Connection
	opts  Options
}

// New creates an Aggregator over conns, preserving their order in results.
func New(conns []Connection, opts Options) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{conns: conns, opts: opts}
}

// FromConfig builds the connection registry from the configured providers.
func FromConfig(cfg config.Config, hc *http.Client, logger *slog.Logger) (*Aggregator, error) {
	conns := make([]Connection, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		f, err := providers.New(p.Family, hc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}
		conns = append(conns, Connection{
			ID:      p.ID,
			Name:    p.DisplayName(),
			Fetcher: f,
			Credentials: providers.Credentials{
				Token:     config.ProviderToken(p),
				AccountID: p.AccountID,
				BaseURL:   p.BaseURL,
			},
		})
	}

	policy := &retry.Policy{
		InitialDelay:  time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}
	return New(conns, Options{
		Timeout: cfg.Usage.UsageTimeout(),
		Retries: cfg.Usage.Retries,
		Policy:  policy,
		Logger:  logger,
	}), nil
}

// Connections returns the registry in order.
func (a *Aggregator) Connections() []Connection {
	return append([]Connection(nil), a.conns...)
}

// Fetch returns one record per connection (or only the one matching filter,
// when non-empty), in registry order. Failed providers yield records that
// carry only identity, Error, and FetchedAt.
func (a *Aggregator) Fetch(ctx context.Context, filter string, scope Scope) ([]model.UsageRecord, error) {
	conns := a.conns
	if filter != "" {
		conns = nil
		for _, c := range a.conns {
			if c.ID == filter {
				conns = append(conns, c)
			}
		}
		if len(conns) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, filter)
		}
	}

	results := make([]model.UsageRecord, len(conns))
	var g errgroup.Group
	for i, c := range conns {
		g.Go(func() error {
			rec, err := a.fetchOne(ctx, c)
			if err != nil {
				a.opts.Logger.Warn("usage fetch failed",
					slog.String("provider", c.ID),
					slog.String("session", scope.SessionID),
					slog.String("directory", scope.Directory),
					slog.String("error", err.Error()),
				)
				rec = model.UsageRecord{
					ProviderID:   c.ID,
					ProviderName: c.Name,
					Error:        errorText(err),
					FetchedAt:    a.opts.Now(),
				}
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, c Connection) (model.UsageRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	var raw []byte
	fetch := func(ctx context.Context) error {
		var err error
		raw, err = c.Fetcher.Fetch(ctx, c.Credentials)
		return err
	}

	var err error
	if a.opts.Retries > 0 {
		err = retry.Do(ctx, retry.Options{
			MaxAttempts: a.opts.Retries + 1,
			Policy:      a.opts.Policy,
			Logger:      a.opts.Logger.With(slog.String("provider", c.ID)),
		}, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return model.UsageRecord{}, &FetchError{ProviderID: c.ID, Err: err}
	}

	now := a.opts.Now()
	rec, err := c.Fetcher.Normalize(raw, now)
	if err != nil {
		return model.UsageRecord{}, &FetchError{ProviderID: c.ID, Err: err}
	}
	rec.ProviderID = c.ID
	rec.ProviderName = c.Name
	rec.FetchedAt = now
	return rec, nil
}

// errorText strips retry wrappers so the record shows the provider's message.
func errorText(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		err = fe.Err
	}
	var te *retry.TerminalError
	if errors.As(err, &te) {
		err = te.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}
