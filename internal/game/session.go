package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizroom/quizroom/internal/clock"
	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/event"
	"github.com/quizroom/quizroom/internal/telemetry"
)

// Session is one playthrough from game start to game over. All mutation is
// serialized by the session mutex; the clock-expiry path and the answer path
// cannot both commit a game-over transition.
type Session struct {
	mu sync.Mutex

	gameID string
	roomID string
	userID string

	state        domain.GameState
	questions    []domain.Question
	currentIndex int
	score        int
	highestScore int
	cue          domain.Cue

	countdown *clock.Countdown
	loadGen   int

	deps sessionDeps
}

type sessionDeps struct {
	eb            *event.Bus
	supplier      Supplier
	scores        ScoreGateway
	questionCount int
	questionTime  int
	tickInterval  time.Duration
	newTickerFunc func(d time.Duration) clock.Ticker
}

func newSession(roomID, userID string, deps sessionDeps) *Session {
	return &Session{
		gameID: uuid.NewString(),
		roomID: roomID,
		userID: userID,
		state:  domain.GameNotStarted,
		deps:   deps,
	}
}

// start drives NotStarted/Failed/GameOver into Loading and then InProgress.
// A failed fetch parks the session in Failed; calling start again retries with
// a full reset.
func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.GameLoading {
		s.mu.Unlock()
		return nil
	}

	if s.countdown != nil {
		s.countdown.Cancel()
		s.countdown = nil
	}

	s.state = domain.GameLoading
	s.questions = nil
	s.currentIndex = 0
	s.score = 0
	s.cue = domain.CueNone
	s.loadGen++
	gen := s.loadGen
	s.mu.Unlock()

	telemetry.GamesStarted.Inc()

	// best-known highest score; a read failure only affects the compare,
	// not the user's ability to play
	highest, err := s.deps.scores.GetHighest(ctx, s.userID)
	if err != nil {
		slog.ErrorContext(ctx, "game: read highest score failed",
			"user", s.userID,
			"error", err,
		)
		highest = 0
	}

	questions, err := s.deps.supplier.Fetch(ctx, s.deps.questionCount)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadGen != gen {
		// a newer start superseded this load
		return nil
	}

	if err != nil {
		s.state = domain.GameFailed
		return err
	}

	s.state = domain.GameInProgress
	s.questions = questions
	s.highestScore = highest
	s.countdown = clock.NewCountdown(clock.Config{
		Duration:      s.deps.questionTime,
		Interval:      s.deps.tickInterval,
		OnExpire:      func() { s.onExpire(context.WithoutCancel(ctx)) },
		NewTickerFunc: s.deps.newTickerFunc,
	})
	s.countdown.Start()

	return nil
}

// handleAnswer evaluates a submission against the current question. Late
// submissions after game over are no-ops.
func (s *Session) handleAnswer(ctx context.Context, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.GameInProgress || s.currentIndex >= len(s.questions) {
		return
	}

	if answer != s.questions[s.currentIndex].CorrectAnswer {
		// one mistake ends the game, no partial credit
		s.endGame(ctx, s.score, domain.CueIncorrect, "wrong_answer")
		return
	}

	s.score++
	if s.currentIndex+1 < len(s.questions) {
		s.currentIndex++
		s.cue = domain.CueCorrect
		s.countdown.Reset()
		return
	}

	s.endGame(ctx, s.score, domain.CueGameOver, "completed")
}

// onExpire ends the session at the score of the last completed question.
// Expiry never credits the question on screen.
func (s *Session) onExpire(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.GameInProgress {
		return
	}

	s.endGame(ctx, s.score, domain.CueGameOver, "timeout")
}

// endGame commits the single GameOver transition. Callers hold the mutex and
// have already checked the session is in progress.
func (s *Session) endGame(ctx context.Context, finalScore int, cue domain.Cue, reason string) {
	s.state = domain.GameOver
	s.score = finalScore
	s.cue = cue
	if s.countdown != nil {
		s.countdown.Cancel()
	}

	if finalScore > s.highestScore {
		// optimistic: the in-memory highest advances once the write is
		// issued; a failed write is logged, never rolled back
		if err := s.deps.scores.SetHighestIfGreater(ctx, s.userID, finalScore); err != nil {
			slog.ErrorContext(ctx, "game: persist highest score failed",
				"user", s.userID,
				"score", finalScore,
				"error", err,
			)
		}
		s.highestScore = finalScore
	}

	telemetry.GamesFinished.WithLabelValues(reason).Inc()

	s.deps.eb.Publish(ctx, domain.EventGameEnded{Game: s.snapshotLocked()})
}

// close releases the session's clock so a late timer cannot mutate a session
// whose owner is gone.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown != nil {
		s.countdown.Cancel()
	}
}

func (s *Session) snapshot() domain.Game {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.Game {
	g := domain.Game{
		GameID:       s.gameID,
		RoomID:       s.roomID,
		UserID:       s.userID,
		State:        s.state,
		Questions:    make([]domain.Question, len(s.questions)),
		CurrentIndex: s.currentIndex,
		Score:        s.score,
		HighestScore: s.highestScore,
		Cue:          s.cue,
	}
	copy(g.Questions, s.questions)

	if s.countdown != nil && s.state == domain.GameInProgress {
		g.TimeLeft = s.countdown.TimeLeft()
	}

	return g
}
