package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisState(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	repo := NewRedisState(client)
	ctx := context.Background()

	t.Run("RateLimit", func(t *testing.T) {
		actorID := int64(789)
		limit := 2
		window := time.Second

		allowed, err := repo.CheckRateLimit(ctx, actorID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, actorID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, actorID, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		// other actors have their own window
		allowed, err = repo.CheckRateLimit(ctx, 790, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		s.FastForward(window + time.Millisecond)

		allowed, err = repo.CheckRateLimit(ctx, actorID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("MarkOnce", func(t *testing.T) {
		first, err := repo.MarkOnce(ctx, "overdue:42", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := repo.MarkOnce(ctx, "overdue:42", time.Hour)
		require.NoError(t, err)
		assert.False(t, again)
		assert.True(t, s.Exists(markPrefix+"overdue:42"))

		s.FastForward(time.Hour + time.Second)
		first, err = repo.MarkOnce(ctx, "overdue:42", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)

		require.NoError(t, repo.Unmark(ctx, "overdue:42"))
		assert.False(t, s.Exists(markPrefix+"overdue:42"))
		first, err = repo.MarkOnce(ctx, "overdue:42", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisState(nil)
		_, err := repo.CheckRateLimit(ctx, 1, 1, time.Second)
		assert.ErrorContains(t, err, "redis client is nil")
		_, err = repo.MarkOnce(ctx, "k", time.Second)
		assert.Error(t, err)
		assert.Error(t, repo.Unmark(ctx, "k"))
	})

	t.Run("ServerDown", func(t *testing.T) {
		dead, err := miniredis.Run()
		require.NoError(t, err)
		c := redis.NewClient(&redis.Options{Addr: dead.Addr(), MaxRetries: -1})
		defer c.Close()
		dead.Close()

		_, err = NewRedisState(c).CheckRateLimit(ctx, 1, 1, time.Second)
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
		assert.NoError(t, Close(nil))
	})
}
