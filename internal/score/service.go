// Package score persists per-user best scores at users/{userId}.
package score

import (
	"context"
	"fmt"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/store"
)

type Config struct {
	Store *store.Store
}

type Service struct {
	store *store.Store
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
	}
}

// GetHighest returns the user's best recorded score, 0 when no record exists.
func (s *Service) GetHighest(ctx context.Context, userID string) (int, error) {
	var record domain.UserScore
	err := s.store.GetDocument(ctx, userPath(userID), &record)
	if errors.Is(err, errors.CodeNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return record.HighestScore, nil
}

// SetHighestIfGreater merges {highestScore: candidate} into the user's record
// without clobbering other fields. Callers only invoke it when candidate is
// greater than the highest score they know of; the read-compare-write sequence
// is not atomic against a writer on another device, which is accepted.
func (s *Service) SetHighestIfGreater(ctx context.Context, userID string, candidate int) error {
	if candidate < 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("score must be non-negative, got %d", candidate))
	}

	return s.store.SetDocument(ctx, userPath(userID), map[string]any{
		"highestScore": candidate,
	}, true)
}

func userPath(userID string) string {
	return fmt.Sprintf("users/%s", userID)
}
