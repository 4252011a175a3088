package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/planforge/planforge-backend/internal/failure"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/provider"
	"github.com/planforge/planforge-backend/internal/provider/config"
	"github.com/planforge/planforge-backend/internal/provider/mock"
	"github.com/planforge/planforge-backend/internal/provider/oaihttp"
)

type Backend struct {
	Name    string
	Factory provider.Factory
}

type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Router walks an ordered backend chain. Each backend gets its own bounded
// retry budget for retryable failures; a non-retryable failure skips
// straight to the next backend. The first stream successfully opened wins.
type Router struct {
	log      *logger.Logger
	policy   RetryPolicy
	backends []Backend
}

func New(log *logger.Logger, policy RetryPolicy, backends []Backend) (*Router, error) {
	if len(backends) == 0 {
		return nil, errors.New("router: at least one backend required")
	}
	for i, b := range backends {
		if strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("router: backend %d missing name", i)
		}
		if b.Factory == nil {
			return nil, fmt.Errorf("router: backend %q missing factory", b.Name)
		}
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = 500 * time.Millisecond
	}
	if policy.BackoffCap <= 0 {
		policy.BackoffCap = 10 * time.Second
	}

	return &Router{
		log:      log.With("component", "provider_router"),
		policy:   policy,
		backends: backends,
	}, nil
}

// NewFromConfig builds the backend chain from loaded provider config,
// preserving the configured order.
func NewFromConfig(log *logger.Logger, cfg *config.Config) (*Router, error) {
	backends := make([]Backend, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		pc := pc
		switch pc.Type {
		case "mock":
			backends = append(backends, Backend{
				Name: pc.Name,
				Factory: func() (provider.Provider, error) {
					m := mock.New()
					m.EngineName = pc.Name
					return m, nil
				},
			})
		case "oai_http":
			backends = append(backends, Backend{
				Name: pc.Name,
				Factory: func() (provider.Provider, error) {
					return oaihttp.New(pc)
				},
			})
		default:
			return nil, fmt.Errorf("unsupported provider type %q for %q", pc.Type, pc.Name)
		}
	}

	return New(log, RetryPolicy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.BackoffBase.Duration,
		BackoffCap:  cfg.Retry.BackoffCap.Duration,
	}, backends)
}

// Generate tries each backend in order. Returns the last error observed if
// every backend is exhausted; a cancelled context is surfaced immediately.
func (r *Router) Generate(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	var lastErr error

	for _, b := range r.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := b.Factory()
		if err != nil {
			r.log.Warn("backend construction failed", "backend", b.Name, "error", err.Error())
			lastErr = err
			continue
		}

		backoff := r.policy.BackoffBase
		for attempt := 0; ; attempt++ {
			stream, err := p.Generate(ctx, req)
			if err == nil {
				if attempt > 0 || lastErr != nil {
					r.log.Info("backend succeeded", "backend", b.Name, "attempt", attempt+1)
				}
				return stream, nil
			}
			lastErr = err

			if errors.Is(err, context.Canceled) {
				return nil, err
			}

			kind := failure.Classify(err, false, "")
			retryable := failure.RetryableInAttempt(err, kind)
			r.log.Warn("backend generation failed",
				"backend", b.Name,
				"attempt", attempt+1,
				"classification", string(kind),
				"retryable", retryable,
				"error", err.Error())

			if !retryable || attempt >= r.policy.MaxRetries {
				break
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			if backoff > r.policy.BackoffCap {
				backoff = r.policy.BackoffCap
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("router: no backends available")
	}
	return nil, lastErr
}

// sleepWithJitter waits for d +/- 20%, returning early with ctx.Err() on
// cancellation.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jit := 0.8 + rand.Float64()*0.4
	t := time.NewTimer(time.Duration(float64(d) * jit))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
