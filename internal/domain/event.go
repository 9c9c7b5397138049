package domain

const (
	EventNameGameEnded = "game.ended"
)

// EventGameEnded fires exactly once per session, on the GameOver transition.
type EventGameEnded struct {
	Game Game
}

func (EventGameEnded) Name() string { return EventNameGameEnded }
