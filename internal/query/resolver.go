package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/metrics"
)

var errEmptyResult = errors.New("provider returned an empty result")

// Resolver walks a provider chain in order until one provider answers.
type Resolver struct {
	chain  []Provider
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver over chain. The chain must be non-empty
// and should end with a Terminal provider.
func NewResolver(chain []Provider, logger *zap.Logger) (*Resolver, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("provider chain is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := chain[len(chain)-1].(Terminal); !ok {
		logger.Warn("Last provider in chain is not terminal; resolution may be exhausted",
			zap.String("provider", chain[len(chain)-1].Name()))
	}
	return &Resolver{
		chain:  append([]Provider(nil), chain...),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Providers returns the chain's provider names in order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.chain))
	for i, p := range r.chain {
		names[i] = p.Name()
	}
	return names
}

// Resolve returns the first successful result in chain order together with
// the name of the provider that produced it. Failures of non-terminal
// providers are logged and skipped. If the last provider fails too the
// error wraps ErrResolutionExhausted. A cancelled ctx stops the walk and
// its error is returned as is.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, string, error) {
	var failures *multierror.Error

	for _, p := range r.chain {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		res, err := p.Fetch(ctx, q)
		if err == nil && len(res) == 0 {
			err = errEmptyResult
		}
		if err == nil {
			metrics.Resolutions.WithLabelValues(p.Name()).Inc()
			return res, p.Name(), nil
		}

		// Shutdown is not a provider failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}

		fetchErr := &FetchError{Provider: p.Name(), Query: q, Err: err}
		failures = multierror.Append(failures, fetchErr)
		metrics.FetchFailures.WithLabelValues(p.Name()).Inc()
		r.logger.Warn("Provider fetch failed, falling back",
			zap.String("provider", p.Name()),
			zap.String("query", q.String()),
			zap.Error(err))
	}

	metrics.Exhaustions.Inc()
	return nil, "", fmt.Errorf("%w: %w", ErrResolutionExhausted, failures.ErrorOrNil())
}

// ResolveEntry resolves q and wraps the result as a CachedEntry stamped
// with the current time.
func (r *Resolver) ResolveEntry(ctx context.Context, q Query) (CachedEntry, error) {
	res, source, err := r.Resolve(ctx, q)
	if err != nil {
		return CachedEntry{}, err
	}
	return CachedEntry{
		Value:     res,
		Source:    source,
		FetchedAt: r.now().UTC(),
	}, nil
}
