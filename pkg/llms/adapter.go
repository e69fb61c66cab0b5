package llms

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/resource"
)

const (
	memoryWaitTimeout  = 30 * time.Second
	memoryWaitInterval = 500 * time.Millisecond
)

// concurrencyLimitedProvider wraps a Provider with the memory backpressure
// gate, the per-provider concurrency cap, and client-side rate shaping:
// before acquiring a semaphore slot the adapter consults the resource
// governor, blocking up to 30s (polling every 500ms) if memory usage exceeds
// 85% before failing with ResourceExhausted; then a bounded semaphore (cloud
// providers default to 16, local Ollama lanes to min(lanes, 4)) plus a
// token-bucket limiter so a burst of pipeline workers never floods a single
// provider faster than it can be expected to drain.
type concurrencyLimitedProvider struct {
	Provider
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	gov     *resource.Governor
}

// wrapWithLimits applies the concurrency cap implied by cfg.MaxConcurrency
// and, if gov is non-nil, the memory-pressure gate. Client-
// side QPS shaping defaults to one request per 100ms per concurrency slot,
// which keeps steady-state throughput near the concurrency cap without
// allowing a thundering-herd burst when many workers become ready at once.
func wrapWithLimits(p Provider, cfg config.ProviderConfig, gov *resource.Governor) Provider {
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &concurrencyLimitedProvider{
		Provider: p,
		sem:      semaphore.NewWeighted(int64(limit)),
		limiter:  rate.NewLimiter(rate.Limit(limit*10), limit),
		gov:      gov,
	}
}

func (p *concurrencyLimitedProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if p.gov != nil {
		gate, err := p.gov.CheckMemory()
		if err == nil && gate == resource.GateDeny {
			ok, waitErr := p.gov.WaitForMemory(ctx, memoryWaitTimeout, memoryWaitInterval)
			if waitErr != nil {
				return nil, errs.Wrap(errs.Cancelled, "llms: memory wait cancelled", waitErr)
			}
			if !ok {
				return nil, errs.New(errs.ResourceExhausted, "llms: memory gate denied for over 30s")
			}
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Cancelled, "llms: waiting for provider concurrency slot", err)
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.Cancelled, "llms: waiting for provider rate limiter", err)
	}

	return p.Provider.Generate(ctx, req)
}
