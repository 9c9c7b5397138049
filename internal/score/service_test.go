package score_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quizroom/quizroom/internal/score"
	"github.com/quizroom/quizroom/internal/store"
)

func TestService_GetHighest_noRecord(t *testing.T) {
	t.Parallel()
	s, _ := makeService(t)

	got, err := s.GetHighest(context.Background(), "u1")
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestService_SetHighestIfGreater(t *testing.T) {
	t.Parallel()
	s, _ := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.SetHighestIfGreater(ctx, "u1", 5))

	got, err := s.GetHighest(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, got)

	require.NoError(t, s.SetHighestIfGreater(ctx, "u1", 8))

	got, err = s.GetHighest(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 8, got)
}

func TestService_SetHighestIfGreater_mergePreservesOtherFields(t *testing.T) {
	t.Parallel()
	s, st := makeService(t)
	ctx := context.Background()

	require.NoError(t, st.SetDocument(ctx, "users/u1", map[string]any{
		"displayName":  "alice",
		"highestScore": 2,
	}, false))

	require.NoError(t, s.SetHighestIfGreater(ctx, "u1", 6))

	var got struct {
		DisplayName  string `json:"displayName"`
		HighestScore int    `json:"highestScore"`
	}
	require.NoError(t, st.GetDocument(ctx, "users/u1", &got))
	require.Equal(t, "alice", got.DisplayName)
	require.Equal(t, 6, got.HighestScore)
}

func TestService_SetHighestIfGreater_rejectsNegative(t *testing.T) {
	t.Parallel()
	s, _ := makeService(t)

	require.Error(t, s.SetHighestIfGreater(context.Background(), "u1", -1))
}

func makeService(t *testing.T) (*score.Service, *store.Store) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { _ = rc.Close() })

	st := store.New(store.Config{Redis: rc, Prefix: "test"})
	return score.NewService(score.Config{Store: st}), st
}
