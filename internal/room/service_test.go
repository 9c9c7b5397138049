package room_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/room"
	"github.com/quizroom/quizroom/internal/store"
)

func TestService_CreateGet(t *testing.T) {
	t.Parallel()
	s := makeService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, room.CreateRequest{Name: "lobby", CreatedBy: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, created.RoomID)
	require.Empty(t, created.Players)
	require.False(t, created.GameStarted)

	got, err := s.Get(ctx, created.RoomID)
	require.NoError(t, err)
	require.Equal(t, "lobby", got.Name)
	require.Equal(t, "u1", got.CreatedBy)
}

func TestService_Create_requiresName(t *testing.T) {
	t.Parallel()
	s := makeService(t)

	_, err := s.Create(context.Background(), room.CreateRequest{CreatedBy: "u1"})
	require.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestService_Join_isIdempotent(t *testing.T) {
	t.Parallel()
	s := makeService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, room.CreateRequest{Name: "lobby", CreatedBy: "u1"})
	require.NoError(t, err)

	r, err := s.Join(ctx, created.RoomID, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, r.Players)

	r, err = s.Join(ctx, created.RoomID, "u2")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, r.Players)

	// joining twice leaves the player set unchanged
	r, err = s.Join(ctx, created.RoomID, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, r.Players)
}

func TestService_Join_concurrent(t *testing.T) {
	t.Parallel()
	s := makeService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, room.CreateRequest{Name: "lobby", CreatedBy: "u1"})
	require.NoError(t, err)

	// simultaneous joiners must not drop each other's union write
	const joiners = 16
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Join(ctx, created.RoomID, fmt.Sprintf("u%d", i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, created.RoomID)
	require.NoError(t, err)
	require.Len(t, got.Players, joiners)
}

func TestService_List(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	s := makeService(t, withNowFunc(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		_, err := s.Create(ctx, room.CreateRequest{Name: name, CreatedBy: "u1"})
		require.NoError(t, err)
	}

	rooms, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, "first", rooms[0].Name)
	require.Equal(t, "second", rooms[1].Name)
}

func TestService_gameEndedClearsStartedFlag(t *testing.T) {
	t.Parallel()
	s := makeService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, room.CreateRequest{Name: "lobby", CreatedBy: "u1"})
	require.NoError(t, err)

	require.NoError(t, s.SetGameStarted(ctx, created.RoomID, true))

	got, err := s.Get(ctx, created.RoomID)
	require.NoError(t, err)
	require.True(t, got.GameStarted)

	require.NoError(t, s.HandleGameEnded(ctx, domain.EventGameEnded{
		Game: domain.Game{RoomID: created.RoomID},
	}))

	got, err = s.Get(ctx, created.RoomID)
	require.NoError(t, err)
	require.False(t, got.GameStarted)
}

func TestService_Watch(t *testing.T) {
	t.Parallel()
	s := makeService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, room.CreateRequest{Name: "lobby", CreatedBy: "u1"})
	require.NoError(t, err)

	snapshots := make(chan domain.Room, 16)
	cancel, err := s.Watch(ctx, created.RoomID, func(r domain.Room) {
		snapshots <- r
	})
	require.NoError(t, err)
	defer cancel()

	// initial snapshot
	requireSnapshot(t, snapshots)

	_, err = s.Join(ctx, created.RoomID, "u2")
	require.NoError(t, err)

	var r domain.Room
	require.Eventually(t, func() bool {
		select {
		case r = <-snapshots:
			return len(r.Players) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"u2"}, r.Players)
}

func requireSnapshot(t *testing.T, ch <-chan domain.Room) domain.Room {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room snapshot")
		return domain.Room{}
	}
}

func makeService(t *testing.T, opts ...option) *room.Service {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { _ = rc.Close() })

	c := room.Config{Store: store.New(store.Config{Redis: rc, Prefix: "test"})}
	for _, opt := range opts {
		opt(&c)
	}

	return room.NewService(c)
}

type option func(*room.Config)

func withNowFunc(now func() time.Time) option {
	return func(c *room.Config) {
		c.NowFunc = now
	}
}
