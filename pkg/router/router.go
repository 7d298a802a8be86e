package router

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cache"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cost"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/provider"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/ratelimit"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

const (
	// Same-provider retry backoff. Rate-limited failures start wider.
	backoffBase            = 250 * time.Millisecond
	backoffBaseRateLimited = time.Second
	backoffCap             = 8 * time.Second

	// attemptsPerTarget is the call budget against one provider before
	// moving down the fallback chain.
	attemptsPerTarget = 3

	// estimatedOutputTokens stands in for MaxTokens when the caller
	// does not bound the response.
	estimatedOutputTokens = 1000
)

// RecordSink persists completed call records.
type RecordSink interface {
	AppendCallRecord(rec *types.CallRecord) error
}

// Request is one routed model call on behalf of a role.
type Request struct {
	Role        string
	Messages    []types.Message
	Temperature float64
	MaxTokens   int
	Context     types.CallContext

	// Stream, when set, receives content chunks and disables the
	// response cache for this call.
	Stream provider.StreamFunc
}

// Result is the terminal outcome of a routed call.
type Result struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Cached       bool
	FallbackUsed bool
}

// Router drives one model call through admission, cache, rate limiting,
// the provider chain and accounting. Per call it emits exactly one call
// record on any terminal outcome, and none on a cache hit.
type Router struct {
	registry   *provider.Registry
	limits     *ratelimit.Manager
	cache      *cache.Cache
	controller *cost.Controller
	health     *healthTracker
	sink       RecordSink

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter wires the routing core. cache, controller and sink may be
// nil; the corresponding steps are skipped.
func NewRouter(registry *provider.Registry, limits *ratelimit.Manager, c *cache.Cache, controller *cost.Controller, sink RecordSink) *Router {
	return &Router{
		registry:   registry,
		limits:     limits,
		cache:      c,
		controller: controller,
		health:     newHealthTracker(),
		sink:       sink,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns the current provider health snapshots sorted by name.
func (r *Router) Health() []types.ProviderHealth {
	names := r.health.providers()
	sort.Strings(names)
	out := make([]types.ProviderHealth, 0, len(names))
	for _, name := range names {
		out = append(out, r.health.snapshot(name))
	}
	return out
}

// Call routes one request. On success the result names the provider and
// model that answered; FallbackUsed marks answers from anything but the
// primary target.
func (r *Router) Call(ctx context.Context, req Request) (*Result, error) {
	correlationID := uuid.New().String()
	logger := log.WithComponent("router").With().
		Str("role", req.Role).
		Str("correlation_id", correlationID).
		Logger()

	chain, err := r.registry.Chain(req.Role)
	if err != nil {
		return nil, errdefs.AsError(err).WithCorrelation(correlationID)
	}
	primary := chain[0]

	// Cost admission against the primary target's pricing.
	estimate := r.estimate(primary, req)
	if r.controller != nil {
		if err := r.controller.AdmitCall(req.Context, estimate); err != nil {
			return nil, errdefs.AsError(err).WithCorrelation(correlationID)
		}
	}

	// Cache lookup. Streaming calls always go to the provider.
	var cacheKey string
	if r.cache != nil && req.Stream == nil {
		cacheKey = cache.Key(primary.Adapter.Name(), primary.Model, req.Temperature, req.Messages)
		if hit, ok := r.cache.Lookup(cacheKey); ok {
			logger.Debug().Msg("Cache hit")
			return &Result{
				Content:      hit.Content,
				Provider:     hit.Provider,
				Model:        hit.Model,
				InputTokens:  hit.InputTokens,
				OutputTokens: hit.OutputTokens,
				Cached:       true,
			}, nil
		}
	}

	var lastErr error
	for i, target := range chain {
		if i > 0 {
			metrics.ProviderFallbacks.WithLabelValues(chain[i-1].Adapter.Name()).Inc()
			logger.Warn().
				Str("provider", target.Adapter.Name()).
				Str("model", target.Model).
				Msg("Falling back to next provider")
		}

		res, err := r.callTarget(ctx, logger, target, req, correlationID, i > 0)
		if err == nil {
			if cacheKey != "" {
				r.cache.Store(cacheKey, &cache.Response{
					Provider:     res.Provider,
					Model:        res.Model,
					Content:      res.Content,
					InputTokens:  res.InputTokens,
					OutputTokens: res.OutputTokens,
				})
			}
			return res, nil
		}

		lastErr = err
		// Permanent errors (bad credentials, malformed requests, cost
		// denial, cancellation) abort the whole chain; a fallback would
		// hit the same wall or hide a caller bug.
		if !errdefs.IsRetryable(err) {
			return nil, r.finish(req, target, correlationID, i > 0, nil, 0, err)
		}
	}

	return nil, r.finish(req, chain[len(chain)-1], correlationID, len(chain) > 1, nil, 0, lastErr)
}

// callTarget exhausts the same-provider retry budget against one
// target. A nil error means the returned result is terminal; the call
// record has already been written.
func (r *Router) callTarget(ctx context.Context, logger zerolog.Logger, target provider.Target, req Request, correlationID string, isFallback bool) (*Result, error) {
	name := target.Adapter.Name()
	limiter := r.limits.Limiter(name)

	var lastErr error
	for attempt := 1; attempt <= attemptsPerTarget; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt-1, provider.IsRateLimited(lastErr))
			logger.Debug().
				Str("provider", name).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Retrying provider call")
			if err := r.sleep(ctx, delay); err != nil {
				return nil, errdefs.Wrap(errdefs.KindCancelled, "cancelled during backoff", err)
			}
		}

		var release func()
		if limiter != nil {
			var err error
			release, err = limiter.Acquire(ctx)
			if err != nil {
				return nil, err
			}
		}

		start := time.Now()
		var callRes *provider.CallResult
		call := func() error {
			var err error
			preq := provider.CallRequest{
				Model:       target.Model,
				Messages:    req.Messages,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			}
			if req.Stream != nil {
				callRes, err = target.Adapter.Stream(ctx, preq, req.Stream)
			} else {
				callRes, err = target.Adapter.Call(ctx, preq)
			}
			return err
		}

		var err error
		if limiter != nil {
			err = limiter.Do(call)
			release()
		} else {
			err = call()
		}
		latency := time.Since(start)

		r.health.observe(name, err == nil, latency)
		metrics.ProviderCallDuration.WithLabelValues(name).Observe(latency.Seconds())

		if err == nil {
			res := &Result{
				Content:      callRes.Content,
				Provider:     name,
				Model:        target.Model,
				InputTokens:  callRes.InputTokens,
				OutputTokens: callRes.OutputTokens,
				CostUSD:      target.Adapter.Cost(target.Model, callRes.InputTokens, callRes.OutputTokens),
				FallbackUsed: isFallback,
			}
			return res, r.finish(req, target, correlationID, isFallback, res, latency, nil)
		}

		lastErr = errdefs.AsError(err).WithCorrelation(correlationID).WithAttempt(attempt)
		if !errdefs.IsRetryable(lastErr) {
			break
		}
	}
	return nil, lastErr
}

// finish writes the single terminal call record and feeds accounting.
// It returns err unchanged so callers can tail-call it.
func (r *Router) finish(req Request, target provider.Target, correlationID string, fallback bool, res *Result, latency time.Duration, err error) error {
	rec := &types.CallRecord{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Provider:      target.Adapter.Name(),
		Model:         target.Model,
		Role:          req.Role,
		TenantID:      req.Context.TenantID,
		UserID:        req.Context.UserID,
		ProjectID:     req.Context.ProjectID,
		BuildID:       req.Context.BuildID,
		FallbackUsed:  fallback,
		Latency:       latency,
		Timestamp:     time.Now().UTC(),
	}

	if err == nil && res != nil {
		rec.InputTokens = res.InputTokens
		rec.OutputTokens = res.OutputTokens
		rec.CostUSD = res.CostUSD
		rec.Outcome = types.OutcomeSuccess
	} else if errdefs.IsRetryable(err) {
		rec.Outcome = types.OutcomeRetryableError
	} else {
		rec.Outcome = types.OutcomeFatalError
	}

	metrics.ProviderCallsTotal.WithLabelValues(rec.Provider, rec.Model, string(rec.Outcome)).Inc()
	metrics.TokensTotal.WithLabelValues(rec.Provider, rec.Model, "input").Add(float64(rec.InputTokens))
	metrics.TokensTotal.WithLabelValues(rec.Provider, rec.Model, "output").Add(float64(rec.OutputTokens))

	if r.controller != nil {
		r.controller.OnCallCompleted(rec)
	}
	if r.sink != nil {
		if sinkErr := r.sink.AppendCallRecord(rec); sinkErr != nil {
			log.WithComponent("router").Error().Err(sinkErr).Msg("Failed to persist call record")
		}
	}
	return err
}

// estimate predicts the cost of one call for admission purposes.
func (r *Router) estimate(target provider.Target, req Request) float64 {
	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += len(msg.Content) / 4
	}
	outputTokens := req.MaxTokens
	if outputTokens <= 0 {
		outputTokens = estimatedOutputTokens
	}
	return target.Adapter.Cost(target.Model, inputTokens, outputTokens)
}

// backoffDelay computes the sleep before retry number n (1-based) with
// full jitter on the upper half.
func backoffDelay(n int, rateLimited bool) time.Duration {
	base := backoffBase
	if rateLimited {
		base = backoffBaseRateLimited
	}
	d := base << (n - 1)
	if d > backoffCap {
		d = backoffCap
	}
	// Jitter in [d/2, d).
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
