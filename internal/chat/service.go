// Package chat is the append-only per-room message log, delivered live and
// capped to the latest 50 messages.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
	"github.com/quizroom/quizroom/internal/store"
	"github.com/quizroom/quizroom/internal/telemetry"
)

// HistoryLimit caps how many recent messages a room delivers.
const HistoryLimit = 50

type Config struct {
	Store *store.Store

	// NowFunc assigns message timestamps, defaults to time.Now.
	NowFunc func() time.Time
}

type Service struct {
	store *store.Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	now := c.NowFunc
	if now == nil {
		now = time.Now
	}

	return &Service{
		store: c.Store,
		now:   now,
	}
}

type PostRequest struct {
	RoomID string
	Sender domain.Identity
	Text   string
}

// Post appends a message with a server-assigned timestamp. Messages are
// immutable once created.
func (s *Service) Post(ctx context.Context, req PostRequest) (*domain.ChatMessage, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("message text is required"))
	}

	m := domain.ChatMessage{
		Text:      req.Text,
		UserID:    req.Sender.UID,
		Username:  req.Sender.Username(),
		CreatedAt: s.now(),
	}

	id, err := s.store.AddDocument(ctx, messagesPath(req.RoomID), m)
	if err != nil {
		return nil, err
	}
	m.MessageID = id

	telemetry.ChatMessages.Inc()
	return &m, nil
}

// History returns the latest messages of a room in display order, oldest to
// newest. Retrieval is newest-to-oldest with the cap applied, then reversed.
func (s *Service) History(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	docs, err := s.store.QueryCollection(ctx, messagesPath(roomID), store.Query{
		Desc:  true,
		Limit: HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.ChatMessage, 0, len(docs))
	for _, d := range docs {
		var m domain.ChatMessage
		if err := d.Decode(&m); err != nil {
			return nil, err
		}
		m.MessageID = d.ID
		messages = append(messages, m)
	}

	return lo.Reverse(messages), nil
}

// Watch delivers the display-ordered history on every change to the room's
// message log. The returned cancel must be called when the watching scope
// ends.
func (s *Service) Watch(ctx context.Context, roomID string, onChange func([]domain.ChatMessage)) (cancel func(), err error) {
	return s.store.Subscribe(ctx, messagesPath(roomID), func() {
		messages, err := s.History(ctx, roomID)
		if err != nil {
			slog.ErrorContext(ctx, "chat: read history failed", "room", roomID, "error", err)
			return
		}
		onChange(messages)
	})
}

func messagesPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/messages", roomID)
}
