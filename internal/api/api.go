// Package api exposes the HTTP JSON surface and the per-room websocket feed.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/quizroom/quizroom/internal/auth"
	"github.com/quizroom/quizroom/internal/chat"
	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/event"
	"github.com/quizroom/quizroom/internal/game"
	"github.com/quizroom/quizroom/internal/leaderboard"
	"github.com/quizroom/quizroom/internal/questionbank"
	"github.com/quizroom/quizroom/internal/room"
	"github.com/quizroom/quizroom/internal/score"
)

const defaultLeaderboardLimit = 10

type Config struct {
	Engine   *gin.Engine
	EventBus *event.Bus
	Auth     *auth.Verifier
	Hub      *Hub

	Rooms       *room.Service
	Chat        *chat.Service
	Games       *game.Service
	Scores      *score.Service
	Leaderboard *leaderboard.Service
	Questions   *questionbank.Service

	// AdminUsers are the UIDs allowed to manage the question bank.
	AdminUsers []string
}

type API struct {
	verifier *auth.Verifier
	hub      *Hub

	rooms       *room.Service
	chat        *chat.Service
	games       *game.Service
	scores      *score.Service
	leaderboard *leaderboard.Service
	questions   *questionbank.Service

	admins   []string
	upgrader websocket.Upgrader

	// one store watch pair per room, shared by all of its websocket clients
	mu      sync.Mutex
	watches map[string]*roomWatch
}

func New(c Config) *API {
	a := &API{
		verifier:    c.Auth,
		hub:         c.Hub,
		rooms:       c.Rooms,
		chat:        c.Chat,
		games:       c.Games,
		scores:      c.Scores,
		leaderboard: c.Leaderboard,
		questions:   c.Questions,
		admins:      c.AdminUsers,
		upgrader: websocket.Upgrader{
			// the browser client is served from another origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		watches: make(map[string]*roomWatch),
	}

	a.registerRoutes(c.Engine)

	c.EventBus.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return a.publishGameEnded(ctx, e.(domain.EventGameEnded))
	})

	return a
}

func (a *API) registerRoutes(e *gin.Engine) {
	v1 := e.Group("/api/v1", a.verifier.Middleware())

	v1.GET("/rooms", a.listRooms)
	v1.POST("/rooms", a.createRoom)
	v1.GET("/rooms/:roomID", a.getRoom)
	v1.POST("/rooms/:roomID/join", a.joinRoom)

	v1.GET("/rooms/:roomID/game", a.getGame)
	v1.POST("/rooms/:roomID/game/start", a.startGame)
	v1.POST("/rooms/:roomID/game/answer", a.answerGame)

	v1.GET("/rooms/:roomID/messages", a.listMessages)
	v1.POST("/rooms/:roomID/messages", a.postMessage)

	v1.GET("/leaderboard", a.topLeaderboard)
	v1.GET("/users/me/score", a.myScore)

	admin := v1.Group("/admin", a.requireAdmin())
	admin.GET("/questions", a.listQuestions)
	admin.POST("/questions", a.addQuestion)
	admin.DELETE("/questions/:questionID", a.deleteQuestion)

	// websockets cannot set an Authorization header from the browser, so the
	// token rides a query parameter instead of the middleware
	e.GET("/ws/rooms/:roomID", a.serveWS)
}

// --- rooms ---

type createRoomRequest struct {
	Name string `json:"name"`
}

func (a *API) createRoom(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	r, err := a.rooms.Create(c.Request.Context(), room.CreateRequest{
		Name:      req.Name,
		CreatedBy: id.UID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toRoomView(*r))
}

func (a *API) listRooms(c *gin.Context) {
	rooms, err := a.rooms.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}

	views := make([]roomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, toRoomView(r))
	}

	c.JSON(http.StatusOK, views)
}

func (a *API) getRoom(c *gin.Context) {
	r, err := a.rooms.Get(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRoomView(*r))
}

func (a *API) joinRoom(c *gin.Context) {
	id, _ := auth.FromContext(c)

	r, err := a.rooms.Join(c.Request.Context(), c.Param("roomID"), id.UID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRoomView(*r))
}

// --- game ---

type answerRequest struct {
	Answer string `json:"answer"`
}

func (a *API) startGame(c *gin.Context) {
	id, _ := auth.FromContext(c)
	roomID := c.Param("roomID")
	ctx := c.Request.Context()

	if _, err := a.rooms.Get(ctx, roomID); err != nil {
		renderError(c, err)
		return
	}

	g, err := a.games.Start(ctx, game.StartRequest{
		RoomID: roomID,
		UserID: id.UID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	// the room flag is presentation state; a failed flip must not undo the
	// running session
	if err := a.rooms.SetGameStarted(ctx, roomID, true); err != nil {
		slog.ErrorContext(ctx, "api: set game started failed", "room", roomID, "error", err)
	}

	c.JSON(http.StatusOK, toGameView(*g))
}

func (a *API) answerGame(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.games.HandleAnswer(c.Request.Context(), game.AnswerRequest{
		RoomID: c.Param("roomID"),
		UserID: id.UID,
		Answer: req.Answer,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGameView(*g))
}

func (a *API) getGame(c *gin.Context) {
	id, _ := auth.FromContext(c)

	g, err := a.games.Get(c.Request.Context(), c.Param("roomID"), id.UID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGameView(*g))
}

// --- chat ---

type postMessageRequest struct {
	Text string `json:"text"`
}

func (a *API) postMessage(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	m, err := a.chat.Post(c.Request.Context(), chat.PostRequest{
		RoomID: c.Param("roomID"),
		Sender: id,
		Text:   req.Text,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toMessageView(*m))
}

func (a *API) listMessages(c *gin.Context) {
	messages, err := a.chat.History(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toMessageViews(messages))
}

// --- leaderboard and scores ---

func (a *API) topLeaderboard(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be an integer, got %q", raw)))
			return
		}
		limit = n
	}

	entries, err := a.leaderboard.Top(c.Request.Context(), leaderboard.TopRequest{Limit: limit})
	if err != nil {
		renderError(c, err)
		return
	}

	views := make([]leaderboardEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, leaderboardEntryView{UserID: e.UserID, Score: e.Score})
	}

	c.JSON(http.StatusOK, views)
}

func (a *API) myScore(c *gin.Context) {
	id, _ := auth.FromContext(c)

	highest, err := a.scores.GetHighest(c.Request.Context(), id.UID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"highestScore": highest})
}

// --- question bank (admin) ---

type addQuestionRequest struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

func (a *API) addQuestion(c *gin.Context) {
	var req addQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	q, err := a.questions.Add(c.Request.Context(), questionbank.AddRequest{
		Text:          req.Text,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBankQuestionView(*q))
}

func (a *API) listQuestions(c *gin.Context) {
	questions, err := a.questions.List(c.Request.Context(), questionbank.ListRequest{})
	if err != nil {
		renderError(c, err)
		return
	}

	views := make([]bankQuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, toBankQuestionView(q))
	}

	c.JSON(http.StatusOK, views)
}

func (a *API) deleteQuestion(c *gin.Context) {
	if err := a.questions.Delete(c.Request.Context(), questionbank.DeleteRequest{
		QuestionID: c.Param("questionID"),
	}); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := auth.FromContext(c)
		if !lo.Contains(a.admins, id.UID) {
			e := errors.New(errors.CodeUnauthenticated, errors.WithMessagef("admin access required"))
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}
		c.Next()
	}
}

// --- websocket feed ---

// serveWS upgrades the connection and ties its lifetime to the room's shared
// store watches.
func (a *API) serveWS(c *gin.Context) {
	id, err := a.verifier.Verify(c.Query("token"))
	if err != nil {
		renderError(c, err)
		return
	}

	roomID := c.Param("roomID")
	if _, err := a.rooms.Get(c.Request.Context(), roomID); err != nil {
		renderError(c, err)
		return
	}

	release, err := a.acquireWatch(roomID)
	if err != nil {
		renderError(c, err)
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		release()
		return
	}

	a.hub.registerClient(conn, roomID, id.UID, release)
}

type roomWatch struct {
	refs    int
	cancels []func()
}

// acquireWatch starts the room's store watches on first use and refcounts them
// across clients, so a room with N viewers still costs two subscriptions.
func (a *API) acquireWatch(roomID string) (release func(), err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.watches[roomID]
	if !ok {
		w, err = a.startWatch(roomID)
		if err != nil {
			return nil, err
		}
		a.watches[roomID] = w
	}

	w.refs++
	return func() { a.releaseWatch(roomID) }, nil
}

func (a *API) startWatch(roomID string) (*roomWatch, error) {
	ctx := context.Background()

	cancelRoom, err := a.rooms.Watch(ctx, roomID, func(r domain.Room) {
		a.hub.BroadcastToRoom(roomID, "room.updated", toRoomView(r))
	})
	if err != nil {
		return nil, err
	}

	cancelChat, err := a.chat.Watch(ctx, roomID, func(messages []domain.ChatMessage) {
		a.hub.BroadcastToRoom(roomID, "chat.history", toMessageViews(messages))
	})
	if err != nil {
		cancelRoom()
		return nil, err
	}

	return &roomWatch{cancels: []func(){cancelRoom, cancelChat}}, nil
}

func (a *API) releaseWatch(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.watches[roomID]
	if !ok {
		return
	}

	w.refs--
	if w.refs > 0 {
		return
	}

	for _, cancel := range w.cancels {
		cancel()
	}
	delete(a.watches, roomID)
}

func (a *API) publishGameEnded(_ context.Context, e domain.EventGameEnded) error {
	a.hub.BroadcastToRoom(e.Game.RoomID, "game.ended", toGameView(e.Game))
	return nil
}

// --- views ---

// roomView carries the document ID alongside the stored fields.
type roomView struct {
	RoomID      string    `json:"roomId"`
	Name        string    `json:"name"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Players     []string  `json:"players"`
	GameStarted bool      `json:"gameStarted"`
}

func toRoomView(r domain.Room) roomView {
	return roomView{
		RoomID:      r.RoomID,
		Name:        r.Name,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		Players:     r.Players,
		GameStarted: r.GameStarted,
	}
}

type leaderboardEntryView struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

type messageView struct {
	MessageID string    `json:"messageId"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageView(m domain.ChatMessage) messageView {
	return messageView{
		MessageID: m.MessageID,
		Text:      m.Text,
		UserID:    m.UserID,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

func toMessageViews(messages []domain.ChatMessage) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, toMessageView(m))
	}
	return views
}

// questionView never carries the correct answer; grading stays server-side.
type questionView struct {
	ID       string   `json:"id"`
	Category string   `json:"category,omitempty"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
}

type gameView struct {
	GameID          string        `json:"gameId"`
	State           string        `json:"state"`
	CurrentIndex    int           `json:"currentIndex"`
	TotalQuestions  int           `json:"totalQuestions"`
	CurrentQuestion *questionView `json:"currentQuestion,omitempty"`
	Score           int           `json:"score"`
	HighestScore    int           `json:"highestScore"`
	TimeLeft        int           `json:"timeLeft"`
	Cue             string        `json:"cue,omitempty"`
}

func toGameView(g domain.Game) gameView {
	v := gameView{
		GameID:         g.GameID,
		State:          string(g.State),
		CurrentIndex:   g.CurrentIndex,
		TotalQuestions: len(g.Questions),
		Score:          g.Score,
		HighestScore:   g.HighestScore,
		TimeLeft:       g.TimeLeft,
		Cue:            string(g.Cue),
	}

	if g.State == domain.GameInProgress && g.CurrentIndex < len(g.Questions) {
		q := g.Questions[g.CurrentIndex]
		v.CurrentQuestion = &questionView{
			ID:       q.ID,
			Category: q.Category,
			Text:     q.Text,
			Options:  q.Options,
		}
	}

	return v
}

type bankQuestionView struct {
	QuestionID    string    `json:"questionId"`
	Text          string    `json:"text"`
	Options       []string  `json:"options"`
	CorrectAnswer string    `json:"correctAnswer"`
	CreateTime    time.Time `json:"createTime"`
}

func toBankQuestionView(q domain.BankQuestion) bankQuestionView {
	return bankQuestionView{
		QuestionID:    q.QuestionID,
		Text:          q.Text,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		CreateTime:    q.CreateTime,
	}
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", e)
	}

	c.JSON(e.HTTPStatusCode(), e)
}
