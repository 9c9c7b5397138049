// Package leaderboard keeps a global best-score board in a Redis sorted set,
// fed by game-over events.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return s.HandleGameEnded(ctx, e.(domain.EventGameEnded))
	})

	return s
}

// HandleGameEnded records the final score if it beats the user's board entry.
// GT semantics guarantee the stored value never decreases.
func (s *Service) HandleGameEnded(ctx context.Context, e domain.EventGameEnded) error {
	g := e.Game

	if err := s.redis.ZAddGT(ctx, s.boardKey(), redis.Z{
		Score:  float64(g.Score),
		Member: g.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

type TopRequest struct {
	Limit int
}

// Top returns the best entries in descending score order.
func (s *Service) Top(ctx context.Context, req TopRequest) ([]domain.LeaderboardEntry, error) {
	if req.Limit <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be positive, got %d", req.Limit))
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(), 0, int64(req.Limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserID: z.Member.(string),
			Score:  int(z.Score),
		})
	}

	return entries, nil
}

func (s *Service) boardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}
