// Package room manages lobby documents at rooms/{roomId}: creation, presence
// and the game-started flag.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/store"
)

type Config struct {
	Store *store.Store

	// NowFunc stamps room creation time, defaults to time.Now.
	NowFunc func() time.Time
}

type Service struct {
	store *store.Store
	now   func() time.Time

	// per-room locks serialize the read-modify-write mutations of a room
	// document within this process; merge writes alone are not atomic
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(c Config) *Service {
	now := c.NowFunc
	if now == nil {
		now = time.Now
	}

	return &Service{
		store: c.Store,
		now:   now,
		locks: make(map[string]*sync.Mutex),
	}
}

type CreateRequest struct {
	Name      string
	CreatedBy string
}

// Create makes a new empty room. Rooms are never deleted in normal flow.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Room, error) {
	if req.Name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room name is required"))
	}

	r := domain.Room{
		RoomID:      uuid.NewString(),
		Name:        req.Name,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.now(),
		Players:     []string{},
		GameStarted: false,
	}

	if err := s.store.SetDocument(ctx, roomPath(r.RoomID), r, false); err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *Service) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	var r domain.Room
	if err := s.store.GetDocument(ctx, roomPath(roomID), &r); err != nil {
		return nil, err
	}

	r.RoomID = roomID
	return &r, nil
}

// List returns all rooms, oldest first.
func (s *Service) List(ctx context.Context) ([]domain.Room, error) {
	docs, err := s.store.QueryCollection(ctx, "rooms", store.Query{})
	if err != nil {
		return nil, err
	}

	rooms := make([]domain.Room, 0, len(docs))
	for _, d := range docs {
		var r domain.Room
		if err := d.Decode(&r); err != nil {
			return nil, err
		}
		r.RoomID = d.ID
		rooms = append(rooms, r)
	}

	return rooms, nil
}

// Join adds the user to the room's player set. Joining twice is a no-op at
// the data level.
func (s *Service) Join(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	l := s.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	r, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	players := lo.Union(r.Players, []string{userID})
	if len(players) == len(r.Players) {
		return r, nil
	}

	r.Players = players
	if err := s.store.SetDocument(ctx, roomPath(roomID), map[string]any{
		"players": players,
	}, true); err != nil {
		return nil, err
	}

	return r, nil
}

// SetGameStarted toggles the room's game flag.
func (s *Service) SetGameStarted(ctx context.Context, roomID string, started bool) error {
	l := s.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.Get(ctx, roomID); err != nil {
		return err
	}

	if err := s.store.SetDocument(ctx, roomPath(roomID), map[string]any{
		"gameStarted": started,
	}, true); err != nil {
		return err
	}

	return nil
}

// HandleGameEnded flips the room back to its lobby state once a playthrough
// finishes.
func (s *Service) HandleGameEnded(ctx context.Context, e domain.EventGameEnded) error {
	return s.SetGameStarted(ctx, e.Game.RoomID, false)
}

// Watch delivers the full room snapshot on every change to any field
// (coarse-grained, no field-level diffing). The returned cancel must be
// called when the watching scope ends.
func (s *Service) Watch(ctx context.Context, roomID string, onChange func(domain.Room)) (cancel func(), err error) {
	return s.store.Subscribe(ctx, roomPath(roomID), func() {
		r, err := s.Get(ctx, roomID)
		if err != nil {
			// retrying on the next change beats dropping the subscription
			slog.ErrorContext(ctx, "room: read snapshot failed", "room", roomID, "error", err)
			return
		}
		onChange(*r)
	})
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	return l
}

func roomPath(roomID string) string {
	return fmt.Sprintf("rooms/%s", roomID)
}
