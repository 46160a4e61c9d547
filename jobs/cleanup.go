package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TokenCleaner removes refresh tokens that can no longer be used.
// *services.JWTService implements it.
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// NewTokenCleanupJob deletes expired and revoked refresh tokens every interval.
func NewTokenCleanupJob(cleaner TokenCleaner, interval time.Duration, log *zap.Logger) *Job {
	var j *Job
	j = newJob("refresh_token_cleanup", interval, log, func(ctx context.Context) {
		n, err := cleaner.CleanupExpiredTokens(ctx)
		if err != nil {
			if ctx.Err() == nil {
				j.log.Error("refresh token cleanup failed", zap.Error(err))
			}
			return
		}
		if n > 0 {
			j.log.Info("refresh tokens removed", zap.Int64("count", n))
		}
	})
	return j
}

// LimiterSweeper forgets idle rate-limit buckets.
// *middleware.RateLimiter implements it.
type LimiterSweeper interface {
	Cleanup(maxIdle time.Duration) int
}

// NewLimiterCleanupJob drops rate-limit buckets idle for longer than maxIdle.
func NewLimiterCleanupJob(limiter LimiterSweeper, interval, maxIdle time.Duration, log *zap.Logger) *Job {
	var j *Job
	j = newJob("rate_limiter_cleanup", interval, log, func(context.Context) {
		if n := limiter.Cleanup(maxIdle); n > 0 {
			j.log.Debug("idle rate limiters removed", zap.Int("count", n))
		}
	})
	return j
}
