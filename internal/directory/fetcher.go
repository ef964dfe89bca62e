package directory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// Source runs a collection query against one backing-store transport.
type Source interface {
	Query(ctx context.Context, q entity.Query) ([]entity.Record, error)
}

// PoolFetcher produces a validated provider pool for a locale.
type PoolFetcher interface {
	Fetch(ctx context.Context, locale string) ([]entity.Provider, error)
}

// Fetcher queries the primary source and falls back to the secondary one
// when the primary errors or yields no eligible provider.
type Fetcher struct {
	primary    Source
	secondary  Source
	normalizer *Normalizer
	cfg        Config
	metrics    *Metrics
	logger     *zap.SugaredLogger
}

// NewFetcher wires a two-tier fetcher. Either source may be nil, in which
// case that tier fails with ErrNoSource.
func NewFetcher(primary, secondary Source, normalizer *Normalizer, cfg Config, metrics *Metrics, logger *zap.SugaredLogger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Fetcher{primary: primary, secondary: secondary, normalizer: normalizer, cfg: cfg, metrics: metrics, logger: logger}
}

// Query builds the eligibility + language query for a locale hint.
func (f *Fetcher) Query(locale string) entity.Query {
	return entity.Query{
		Collection: f.cfg.Collection,
		Filters: []entity.Filter{
			{Field: "isApproved", Op: entity.OpEqual, Value: true},
			{Field: "isVisible", Op: entity.OpEqual, Value: true},
			{Field: "languages", Op: entity.OpArrayContains, Value: QueryLanguage(locale, f.cfg.DefaultLocale)},
		},
		Limit: f.cfg.PoolLimit,
	}
}

// Fetch returns the validated pool. On failure the pool is empty and the
// error is a *FetchError; callers keep their previous pool.
func (f *Fetcher) Fetch(ctx context.Context, locale string) ([]entity.Provider, error) {
	q := f.Query(locale)

	pool, primaryErr := f.primaryPath(ctx, q, locale)
	if primaryErr == nil && len(pool) > 0 {
		return pool, nil
	}
	if primaryErr != nil {
		f.logger.Warnw("primary profile query failed, trying secondary", "collection", q.Collection, "err", primaryErr)
	} else {
		f.logger.Infow("primary profile query returned no eligible providers, trying secondary", "collection", q.Collection)
	}

	pool, secondaryErr := f.secondaryPath(ctx, q, locale)
	if secondaryErr == nil && len(pool) > 0 {
		return pool, nil
	}
	err := &FetchError{Primary: primaryErr, Secondary: secondaryErr}
	f.logger.Warnw("no providers fetched", "collection", q.Collection, "err", err)
	return []entity.Provider{}, err
}

func (f *Fetcher) primaryPath(ctx context.Context, q entity.Query, locale string) ([]entity.Provider, error) {
	if f.primary == nil {
		return nil, fmt.Errorf("primary: %w", ErrNoSource)
	}
	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()
	records, err := f.primary.Query(qctx, q)
	f.metrics.FetchDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
	if err != nil {
		f.metrics.FetchTotal.WithLabelValues("primary", "error").Inc()
		return nil, fmt.Errorf("primary query: %w", err)
	}
	pool := f.normalizer.NormalizeAll(qctx, records, locale)
	f.logger.Debugw("primary profile query", "records", len(records), "eligible", len(pool))
	f.metrics.FetchTotal.WithLabelValues("primary", outcome(pool)).Inc()
	return pool, nil
}

type fetchResult struct {
	pool []entity.Provider
	err  error
}

// secondaryPath races the secondary source against FetchTimeout. The losing
// goroutine is abandoned; its context is cancelled and its buffered send
// never blocks.
func (f *Fetcher) secondaryPath(ctx context.Context, q entity.Query, locale string) ([]entity.Provider, error) {
	if f.secondary == nil {
		return nil, fmt.Errorf("secondary: %w", ErrNoSource)
	}
	start := time.Now()
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		records, err := f.secondary.Query(qctx, q)
		if err != nil {
			done <- fetchResult{err: fmt.Errorf("secondary query: %w", err)}
			return
		}
		done <- fetchResult{pool: f.normalizer.NormalizeAll(qctx, records, locale)}
	}()

	timer := time.NewTimer(f.cfg.FetchTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		f.metrics.FetchDuration.WithLabelValues("secondary").Observe(time.Since(start).Seconds())
		if res.err != nil {
			f.metrics.FetchTotal.WithLabelValues("secondary", "error").Inc()
			return nil, res.err
		}
		f.metrics.FetchTotal.WithLabelValues("secondary", outcome(res.pool)).Inc()
		return res.pool, nil
	case <-timer.C:
		f.metrics.FetchTotal.WithLabelValues("secondary", "timeout").Inc()
		return nil, fmt.Errorf("secondary query after %s: %w", f.cfg.FetchTimeout, ErrFetchTimeout)
	case <-ctx.Done():
		f.metrics.FetchTotal.WithLabelValues("secondary", "cancelled").Inc()
		return nil, ctx.Err()
	}
}

func outcome(pool []entity.Provider) string {
	if len(pool) == 0 {
		return "empty"
	}
	return "ok"
}
