// Package ratelimit paces calls to the remote provider and absorbs its
// flood-wait signals.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"teletriage/internal/provider"
)

// Limiter enforces a minimum inter-call delay and retries calls that hit a
// provider flood wait. There is no retry cap: a provider that keeps issuing
// flood waits keeps the caller waiting, so unattended callers must bound
// total time through ctx.
type Limiter struct {
	limiter  *rate.Limiter
	maxDelay time.Duration
	logger   *zap.Logger
}

// New creates a limiter with the given inter-call floor and flood-wait cap.
// Zero values fall back to the defaults (0.5s floor, 60s cap).
func New(minDelay, maxDelay time.Duration, logger *zap.Logger) *Limiter {
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Every(minDelay), 1),
		maxDelay: maxDelay,
		logger:   logger,
	}
}

// Do runs op, waiting out the pacing floor first and sleeping through any
// flood wait before retrying. op must be safe to invoke more than once.
func (l *Limiter) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}

		err := op(ctx)
		var flood *provider.FloodWaitError
		if !errors.As(err, &flood) {
			return err
		}

		wait := time.Duration(flood.Seconds+1) * time.Second
		if wait > l.maxDelay {
			wait = l.maxDelay
		}
		l.logger.Warn("provider flood wait",
			zap.Int("seconds", flood.Seconds),
			zap.Duration("sleeping", wait))
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, l *Limiter, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
