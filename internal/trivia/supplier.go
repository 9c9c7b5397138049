// Package trivia fetches and normalizes question batches from an Open Trivia
// DB compatible source.
package trivia

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/telemetry"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

type Config struct {
	// URL is the base endpoint, e.g. https://opentdb.com/api.php
	URL        string
	HTTPClient *http.Client

	// MaxRetries and RetryDelay bound the rate-limit retry policy.
	MaxRetries int
	RetryDelay time.Duration

	// SleepFunc and ShuffleFunc are injectable for deterministic tests.
	SleepFunc   func(ctx context.Context, d time.Duration) error
	ShuffleFunc func(n int, swap func(i, j int))
}

type Supplier struct {
	url        string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	shuffle    func(n int, swap func(i, j int))
}

func NewSupplier(c Config) *Supplier {
	s := &Supplier{
		url:        c.URL,
		client:     c.HTTPClient,
		maxRetries: c.MaxRetries,
		retryDelay: c.RetryDelay,
		sleep:      c.SleepFunc,
		shuffle:    c.ShuffleFunc,
	}

	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.maxRetries == 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.retryDelay == 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.sleep == nil {
		s.sleep = sleep
	}
	if s.shuffle == nil {
		s.shuffle = rand.Shuffle
	}

	return s
}

type apiResponse struct {
	ResponseCode int           `json:"response_code"`
	Results      []apiQuestion `json:"results"`
}

type apiQuestion struct {
	Category         string   `json:"category"`
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Fetch returns count normalized questions. On HTTP 429 it retries with a
// fixed delay before giving up; other failures propagate immediately.
func (s *Supplier) Fetch(ctx context.Context, count int) ([]domain.Question, error) {
	if count <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question count must be positive, got %d", count))
	}

	for attempt := 0; ; attempt++ {
		resp, err := s.fetchOnce(ctx, count)
		if err == nil {
			return resp, nil
		}

		if err != errRateLimited || attempt >= s.maxRetries {
			return nil, err
		}

		telemetry.TriviaFetchRetries.Inc()
		slog.InfoContext(ctx, "trivia: rate limited, retrying",
			"attempt", attempt+1,
			"delay", s.retryDelay,
		)
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return nil, errors.New(errors.CodeNetwork, errors.WithCause(err))
		}
	}
}

var errRateLimited = errors.New(errors.CodeUpstream, errors.WithMessagef("trivia source rate limited"))

func (s *Supplier) fetchOnce(ctx context.Context, count int) ([]domain.Question, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.requestURL(count), nil)
	if err != nil {
		return nil, errors.New(errors.CodeNetwork, errors.WithCause(err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeNetwork,
			errors.WithMessagef("trivia source unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeUpstream, errors.WithMessagef("trivia source returned status %d", resp.StatusCode))
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.New(errors.CodeUpstream,
			errors.WithMessagef("decode trivia response"),
			errors.WithCause(err))
	}

	// response_code != 0 is a semantic failure even on HTTP 200
	if body.ResponseCode != 0 {
		return nil, errors.New(errors.CodeUpstream, errors.WithMessagef("trivia source response code %d", body.ResponseCode))
	}

	return s.normalize(body.Results), nil
}

func (s *Supplier) requestURL(count int) string {
	q := url.Values{}
	q.Set("amount", fmt.Sprint(count))
	q.Set("type", "multiple")
	return s.url + "?" + q.Encode()
}

// normalize decodes HTML entities, shuffles the combined option list and
// assigns session-local sequential ids.
func (s *Supplier) normalize(results []apiQuestion) []domain.Question {
	questions := make([]domain.Question, 0, len(results))
	for i, r := range results {
		options := make([]string, 0, len(r.IncorrectAnswers)+1)
		for _, a := range r.IncorrectAnswers {
			options = append(options, html.UnescapeString(a))
		}

		correct := html.UnescapeString(r.CorrectAnswer)
		options = append(options, correct)
		s.shuffle(len(options), func(a, b int) {
			options[a], options[b] = options[b], options[a]
		})

		questions = append(questions, domain.Question{
			ID:            fmt.Sprintf("q%d", i),
			Category:      html.UnescapeString(r.Category),
			Text:          html.UnescapeString(r.Question),
			Options:       options,
			CorrectAnswer: correct,
		})
	}

	return questions
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
