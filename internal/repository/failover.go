package repository

import (
	"context"
	"sync/atomic"
	"time"

	"constructlink/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverState uses the primary until it errors, then serves from the
// fallback and retries the primary once a minute.
type FailoverState struct {
	primary   domain.SharedState
	fallback  domain.SharedState
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverState(primary, fallback domain.SharedState, logger *zerolog.Logger) *FailoverState {
	return &FailoverState{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverState) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverState) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Shared state store failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverState) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Shared state store recovered")
	}
}

func (r *FailoverState) CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, actorID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, actorID, limit, window)
}

func (r *FailoverState) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.MarkOnce(ctx, key, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.MarkOnce(ctx, key, ttl)
}

func (r *FailoverState) Unmark(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Unmark(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Unmark(ctx, key)
}

func (r *FailoverState) Down() bool { return r.isDown.Load() }
