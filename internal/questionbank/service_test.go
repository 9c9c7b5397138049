package questionbank_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/questionbank"
)

func TestService_Add_validation(t *testing.T) {
	t.Parallel()

	tests := map[string]questionbank.AddRequest{
		"missing text": {
			Options:       []string{"a", "b"},
			CorrectAnswer: "a",
		},
		"too few options": {
			Text:          "q",
			Options:       []string{"a"},
			CorrectAnswer: "a",
		},
		"correct answer not an option": {
			Text:          "q",
			Options:       []string{"a", "b"},
			CorrectAnswer: "c",
		},
	}

	s := questionbank.NewService(questionbank.Config{})
	for name, req := range tests {
		req := req
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := s.Add(context.Background(), req)
			require.True(t, errors.Is(err, errors.CodeInvalidArgument))
		})
	}
}
