// Package game owns the per-session state machine driving question
// progression, timing, scoring and end-of-game persistence.
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quizroom/quizroom/internal/clock"
	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/event"
)

const defaultQuestionCount = 10

type Supplier interface {
	Fetch(ctx context.Context, count int) ([]domain.Question, error)
}

type ScoreGateway interface {
	GetHighest(ctx context.Context, userID string) (int, error)
	SetHighestIfGreater(ctx context.Context, userID string, candidate int) error
}

type Config struct {
	EventBus *event.Bus
	Supplier Supplier
	Scores   ScoreGateway

	// QuestionCount is the batch size fetched per session, defaults to 10.
	QuestionCount int

	// QuestionTime is the countdown per question in ticks, defaults to
	// clock.DefaultDuration.
	QuestionTime int

	// TickInterval and NewTickerFunc are injectable for deterministic tests.
	TickInterval  time.Duration
	NewTickerFunc func(d time.Duration) clock.Ticker
}

// Service manages at most one session per (room, user) pair.
type Service struct {
	deps sessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(c Config) *Service {
	if c.QuestionCount == 0 {
		c.QuestionCount = defaultQuestionCount
	}
	if c.QuestionTime == 0 {
		c.QuestionTime = clock.DefaultDuration
	}

	return &Service{
		deps: sessionDeps{
			eb:            c.EventBus,
			supplier:      c.Supplier,
			scores:        c.Scores,
			questionCount: c.QuestionCount,
			questionTime:  c.QuestionTime,
			tickInterval:  c.TickInterval,
			newTickerFunc: c.NewTickerFunc,
		},
		sessions: make(map[string]*Session),
	}
}

type StartRequest struct {
	RoomID string
	UserID string
}

// Start begins a new playthrough for the user in the room, restarting any
// previous one. A supplier failure parks the session in the failed state; a
// later Start retries with a full reset.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Game, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room and user are required"))
	}

	ss := s.session(req.RoomID, req.UserID, true)
	if err := ss.start(ctx); err != nil {
		return nil, err
	}

	g := ss.snapshot()
	return &g, nil
}

type AnswerRequest struct {
	RoomID string
	UserID string
	Answer string
}

// HandleAnswer evaluates a submission and returns the resulting snapshot.
// Submissions after game over are no-ops by design.
func (s *Service) HandleAnswer(ctx context.Context, req AnswerRequest) (*domain.Game, error) {
	ss := s.session(req.RoomID, req.UserID, false)
	if ss == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no session: room=%s user=%s", req.RoomID, req.UserID))
	}

	ss.handleAnswer(ctx, req.Answer)

	g := ss.snapshot()
	return &g, nil
}

// Get returns the current snapshot of the user's session in the room.
func (s *Service) Get(_ context.Context, roomID, userID string) (*domain.Game, error) {
	ss := s.session(roomID, userID, false)
	if ss == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no session: room=%s user=%s", roomID, userID))
	}

	g := ss.snapshot()
	return &g, nil
}

// Close tears down the user's session in the room, canceling its clock.
func (s *Service) Close(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(roomID, userID)
	if ss, ok := s.sessions[key]; ok {
		ss.close()
		delete(s.sessions, key)
	}
}

// Shutdown cancels every live session clock.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ss := range s.sessions {
		ss.close()
		delete(s.sessions, key)
	}
}

func (s *Service) session(roomID, userID string, create bool) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(roomID, userID)
	ss, ok := s.sessions[key]
	if !ok && create {
		ss = newSession(roomID, userID, s.deps)
		s.sessions[key] = ss
	}

	return ss
}

func sessionKey(roomID, userID string) string {
	return fmt.Sprintf("%s/%s", roomID, userID)
}
