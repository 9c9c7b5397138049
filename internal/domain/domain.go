package domain

import "time"

// Question is a single multiple-choice question as served to a game session.
// IDs are session-local (q0, q1, ...) and must never be persisted.
type Question struct {
	ID            string
	Category      string
	Text          string
	Options       []string
	CorrectAnswer string
}

// GameState is the lifecycle state of a game session.
type GameState string

const (
	GameNotStarted GameState = "not_started"
	GameLoading    GameState = "loading"
	GameInProgress GameState = "in_progress"
	GameOver       GameState = "game_over"
	GameFailed     GameState = "failed"
)

// Cue tags the outcome of the latest session transition so clients can play
// the matching sound. The server never owns audio.
type Cue string

const (
	CueNone      Cue = ""
	CueCorrect   Cue = "correct"
	CueIncorrect Cue = "incorrect"
	CueGameOver  Cue = "game_over"
)

// Game is a point-in-time snapshot of a session. Snapshots are copies; mutating
// one has no effect on the session.
type Game struct {
	GameID       string
	RoomID       string
	UserID       string
	State        GameState
	Questions    []Question
	CurrentIndex int
	Score        int
	HighestScore int
	TimeLeft     int
	Cue          Cue
}

// Room is a persistent lobby/chat scope shared by multiple users.
type Room struct {
	RoomID      string    `json:"-"`
	Name        string    `json:"name"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Players     []string  `json:"players"`
	GameStarted bool      `json:"gameStarted"`
}

// ChatMessage is immutable once created, ordered by CreatedAt within a room.
type ChatMessage struct {
	MessageID string    `json:"-"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserScore is the per-user best-score record at users/{userId}.
type UserScore struct {
	UserID       string `json:"-"`
	HighestScore int    `json:"highestScore"`
}

// BankQuestion is an admin-authored question, persisted separately from the
// live-fetched trivia used during play.
type BankQuestion struct {
	QuestionID    string
	Text          string
	Options       []string
	CorrectAnswer string
	CreateTime    time.Time
}

// Identity is what the external identity provider vouches for.
type Identity struct {
	UID         string
	DisplayName string
	Email       string
}

// Username returns the name to display in chat, falling back to the email the
// way the web client does.
func (id Identity) Username() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Email
}

// LeaderboardEntry is one row of the global best-score board, sorted by score
// in descending order.
type LeaderboardEntry struct {
	UserID string
	Score  int
}
