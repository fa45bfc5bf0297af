package redisstream

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestGroupSubscriber_CloseReleasesClient(t *testing.T) {
	mr := miniredis.RunT(t)
	sub, err := BuildGroupSubscriber(mr.Addr(), "threadlog-watch", "c1")
	require.NoError(t, err)
	require.NoError(t, sub.client.Ping(context.Background()).Err())

	require.NoError(t, sub.Close())
	require.ErrorIs(t, sub.client.Ping(context.Background()).Err(), redis.ErrClosed)
	require.NoError(t, sub.Close())

	var nilSub *GroupSubscriber
	require.NoError(t, nilSub.Close())
}

func TestEnsureGroupAtTail_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	require.NoError(t, EnsureGroupAtTail(ctx, mr.Addr(), DefaultTopic, "g1"))
	require.NoError(t, EnsureGroupAtTail(ctx, mr.Addr(), DefaultTopic, "g1"))
	require.True(t, mr.Exists(DefaultTopic))
}
