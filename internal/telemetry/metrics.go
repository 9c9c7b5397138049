package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizroom_games_started_total",
		Help: "Number of game sessions that reached the loading state.",
	})

	GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizroom_games_finished_total",
		Help: "Number of game sessions that reached game over, by reason.",
	}, []string{"reason"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizroom_chat_messages_total",
		Help: "Number of chat messages posted.",
	})

	TriviaFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizroom_trivia_fetch_retries_total",
		Help: "Number of rate-limited trivia fetches that were retried.",
	})
)
